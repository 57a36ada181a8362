// Package archive writes snapshots of permanently deleted mail to object
// storage before the rows disappear from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/mailcore/internal/config"
	"github.com/edvin/mailcore/internal/model"
)

// Snapshot is everything the database knew about a mail at the moment it was
// permanently deleted.
type Snapshot struct {
	Mail       model.Mail            `json:"mail"`
	Recipients []model.MailRecipient `json:"recipients"`
	Placements []model.Placement     `json:"placements"`
	DeletedAt  time.Time             `json:"deleted_at"`
}

// Archiver stores snapshots. Implementations must be safe to call again with
// the same mail, overwriting the previous snapshot.
type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot) error
}

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one JSON object per mail.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	logger zerolog.Logger
}

// NewS3Archiver creates an archiver for the configured bucket. A custom
// endpoint (Ceph RGW, MinIO) is addressed path-style.
func NewS3Archiver(cfg config.ArchiveConfig, logger zerolog.Logger) *S3Archiver {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return newS3Archiver(s3.New(opts), cfg.Bucket, logger)
}

func newS3Archiver(client ObjectPutter, bucket string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// ObjectKey returns the key a mail's snapshot is stored under.
func ObjectKey(orgID, mailID string) string {
	return fmt.Sprintf("orgs/%s/mails/%s.json", orgID, mailID)
}

func (a *S3Archiver) Archive(ctx context.Context, snap *Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot of mail %s: %w", snap.Mail.ID, err)
	}

	key := ObjectKey(snap.Mail.OrgID, snap.Mail.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}

	a.logger.Debug().Str("key", key).Int("bytes", len(body)).Msg("archived mail")
	return nil
}
