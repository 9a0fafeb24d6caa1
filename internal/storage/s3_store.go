package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ragbackend/internal/apperr"
)

const KeyPrefix = "documents/"

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is one upload as received from a client.
type Object struct {
	Body        []byte
	Filename    string
	ContentType string
}

// UploadRecord describes a stored object. It is never updated.
type UploadRecord struct {
	Key         string    `json:"key" dynamodbav:"Key"`
	Filename    string    `json:"filename" dynamodbav:"Filename"`
	ContentType string    `json:"contentType" dynamodbav:"ContentType"`
	SizeBytes   int64     `json:"sizeBytes" dynamodbav:"SizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt" dynamodbav:"UploadedAt"`
}

type S3Store struct {
	client S3Client
	bucket string
	now    func() time.Time
}

func NewS3Store(client S3Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket, now: time.Now}
}

// WithClock replaces the time source used for key generation.
func (s *S3Store) WithClock(now func() time.Time) *S3Store {
	s.now = now
	return s
}

// Store writes obj under documents/<unix-millis>-<filename>. Same-millisecond
// uploads of the same filename collide; that is accepted.
func (s *S3Store) Store(ctx context.Context, obj Object, maxSizeBytes int64) (UploadRecord, error) {
	name := cleanFilename(obj.Filename)
	if name == "" {
		return UploadRecord{}, apperr.New(apperr.InvalidInput, apperr.StageStore, "filename is required", nil)
	}
	if len(obj.Body) == 0 {
		return UploadRecord{}, apperr.New(apperr.InvalidInput, apperr.StageStore, "file is empty", nil)
	}
	if maxSizeBytes > 0 && int64(len(obj.Body)) > maxSizeBytes {
		return UploadRecord{}, apperr.New(apperr.PayloadTooLarge, apperr.StageStore,
			fmt.Sprintf("file exceeds %d bytes", maxSizeBytes), nil)
	}
	if strings.TrimSpace(s.bucket) == "" {
		return UploadRecord{}, apperr.New(apperr.NotConfigured, apperr.StageStore, "S3_BUCKET_NAME not set", nil)
	}

	contentType := strings.TrimSpace(obj.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s%d-%s", KeyPrefix, now.UnixMilli(), name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(obj.Body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		if apperr.IsTimeout(err) {
			return UploadRecord{}, apperr.New(apperr.Timeout, apperr.StageStore, "s3 putobject timed out", err)
		}
		return UploadRecord{}, apperr.New(apperr.StoreFailed, apperr.StageStore, "s3 putobject failed", err)
	}

	return UploadRecord{
		Key:         key,
		Filename:    name,
		ContentType: contentType,
		SizeBytes:   int64(len(obj.Body)),
		UploadedAt:  now,
	}, nil
}

// cleanFilename drops any client-supplied directory part.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
