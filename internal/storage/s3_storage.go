package storage

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"lingocrowd/core/internal/config"
)

// VideoKind separates deliverable videos from demo videos sent during negotiation.
type VideoKind string

const (
	VideoDeliverable VideoKind = "projects"
	VideoDemo        VideoKind = "demos"
)

// Upload is a presigned PUT for one object.
type Upload struct {
	URL       string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	PublicURL string `json:"public_url"`
}

// IVideoStorage issues presigned uploads for video objects.
type IVideoStorage interface {
	PresignVideoUpload(ctx context.Context, kind VideoKind, ownerID, filename, contentType string) (*Upload, error)
	PublicURL(objectKey string) string
	OwnsKey(kind VideoKind, ownerID, objectKey string) bool
}

type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Storage creates the S3-backed video storage.
func NewS3Storage(cfg *config.Config) (IVideoStorage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips directories and anything outside [A-Za-z0-9._-].
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "video"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

// VideoKey builds videos/<kind>/<owner>/<uuid>_<filename>.
func VideoKey(kind VideoKind, ownerID, filename string) string {
	return fmt.Sprintf("videos/%s/%s/%s_%s", kind, ownerID, uuid.NewString(), SanitizeFilename(filename))
}

func (s *s3Storage) OwnsKey(kind VideoKind, ownerID, objectKey string) bool {
	return strings.HasPrefix(objectKey, fmt.Sprintf("videos/%s/%s/", kind, ownerID)) && !strings.Contains(objectKey, "..")
}

func (s *s3Storage) PublicURL(objectKey string) string {
	return strings.TrimRight(s.cfg.VideoBaseS3URL, "/") + "/" + objectKey
}

// PresignVideoUpload creates a presigned PUT URL under the owner's prefix.
func (s *s3Storage) PresignVideoUpload(ctx context.Context, kind VideoKind, ownerID, filename, contentType string) (*Upload, error) {
	if !strings.HasPrefix(contentType, "video/") {
		return nil, fmt.Errorf("content type %q is not a video", contentType)
	}
	objectKey := VideoKey(kind, ownerID, filename)

	presignedReq, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.AwsS3Bucket),
		Key:           aws.String(objectKey),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(s.cfg.VideoMaxSizeMB) << 20),
	}, s3.WithPresignExpires(s.cfg.VideoUploadURLTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	log.Printf("Generated presigned video upload for key: %s", objectKey)
	return &Upload{URL: presignedReq.URL, ObjectKey: objectKey, PublicURL: s.PublicURL(objectKey)}, nil
}
