package db

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// IsDuplicateKeyError is a function that checks if an error is a duplicate key error.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// Try executes an operation, retrying when it collides on the _id index.
// Collisions on any other unique index are returned immediately.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsDuplicateIDError)
}

// WithRetries executes an operation up to maxRetries+1 times while isDuplicateKey
// reports the failure as retryable.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !isDuplicateKey(err) {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	return duplicateKeyMessage(err) != ""
}

// IsDuplicateIDError reports a duplicate key error on the primary key index.
func IsDuplicateIDError(err error) bool {
	msg := duplicateKeyMessage(err)
	return msg != "" && strings.Contains(msg, "index: _id_")
}

// IsDuplicateOnIndex reports a duplicate key error raised by the named unique index.
func IsDuplicateOnIndex(err error, indexName string) bool {
	msg := duplicateKeyMessage(err)
	return msg != "" && strings.Contains(msg, "index: "+indexName)
}

func duplicateKeyMessage(err error) string {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return e.Message
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				return e.Message
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return ce.Message
	}
	return ""
}
