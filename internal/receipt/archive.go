package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver keeps a copy of each receipt and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, r Receipt) (string, error)
}

func objectName(r Receipt) string {
	return fmt.Sprintf("%s-%s.json", r.IssuedAt.Format("20060102"), r.OrderNumber)
}

// DirArchiver writes receipts as JSON files into a directory.
type DirArchiver struct {
	dir string
}

func NewDirArchiver(dir string) (*DirArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("receipt dir: %w", err)
	}
	return &DirArchiver{dir: dir}, nil
}

func (a *DirArchiver) Archive(_ context.Context, r Receipt) (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(a.dir, objectName(r))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename receipt: %w", err)
	}
	return path, nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket receipts go to.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	Prefix   string
}

// S3Archiver uploads receipts to S3.
type S3Archiver struct {
	api    putObjectAPI
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiverWith(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiverWith allows injecting a custom client (for tests).
func NewS3ArchiverWith(api putObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{api: api, bucket: bucket, prefix: prefix}
}

func (a *S3Archiver) Archive(ctx context.Context, r Receipt) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	key := a.prefix + objectName(r)
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
