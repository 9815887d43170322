package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"agora/internal/app/persist"
	"agora/internal/pkg/logx"
)

// uploader is the part of manager.Uploader the archive uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archive implements persist.DeadLetter on S3-compatible storage.
type S3Archive struct {
	cfg      ServiceConfig
	uploader uploader
}

var _ persist.DeadLetter = (*S3Archive)(nil)

// NewS3Archive initializes the S3 client using a custom configuration that supports S3-compatible endpoints.
func NewS3Archive(ctx context.Context, cfg ServiceConfig) (*S3Archive, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion("auto")}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	sdkCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client configuration: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	logx.Info("Dead-letter archive enabled", "bucket", cfg.BucketName)

	return newArchive(cfg, manager.NewUploader(client)), nil
}

func newArchive(cfg ServiceConfig, up uploader) *S3Archive {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &S3Archive{cfg: cfg, uploader: up}
}

// ObjectKey returns the key a failure is archived under:
// <prefix>/<op>/<yyyy>/<mm>/<dd>/<unix-nanos>-<uuid>.json.
func (a *S3Archive) ObjectKey(failure persist.Failure) string {
	at := failure.FailedAt.UTC()
	op := strings.ReplaceAll(failure.Op, "/", "_")
	if op == "" {
		op = "unknown"
	}
	name := fmt.Sprintf("%d-%s.json", at.UnixNano(), uuid.NewString())
	return path.Join(a.cfg.Prefix, op, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// Archive uploads failure as a JSON object.
func (a *S3Archive) Archive(ctx context.Context, failure persist.Failure) error {
	body, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}

	key := a.ObjectKey(failure)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	logx.Info("Archived persistence failure", "op", failure.Op, "key", key)
	return nil
}
