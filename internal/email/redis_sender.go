package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// mockEmailTTL bounds how long captured e-mails stay readable by test tooling.
const mockEmailTTL = 5 * time.Minute

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// RedisSender captures e-mails in Redis instead of sending them, so end-to-end tests can
// read them back through the service API.
type RedisSender struct {
	client *redis.Client
}

func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

// StoredEmail is the JSON shape kept under a MockEmailKey.
type StoredEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

// MockEmailKey is the Redis key of the last e-mail with subject sent to recipient.
func MockEmailKey(recipient, subject string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(subject), "-"), "-")
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(recipient), slug)
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	sentAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, recipient := range to {
		data, err := json.Marshal(StoredEmail{To: recipient, Subject: subject, Body: string(rawMessage), SentAt: sentAt})
		if err != nil {
			return fmt.Errorf("failed to marshal email data: %w", err)
		}
		key := MockEmailKey(recipient, subject)
		if err := s.client.Set(ctx, key, data, mockEmailTTL).Err(); err != nil {
			return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
		}
		log.Printf("Mock email stored in Redis key '%s'", key)
	}
	return nil
}
