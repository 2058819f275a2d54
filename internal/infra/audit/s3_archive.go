package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	"matrimony-billing/internal/config"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores each raw provider payload as one JSON object:
// <prefix>/<yyyy>/<mm>/<dd>/<payment id>/<ulid>-<event>.json
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Client builds a client from static keys when given, else the default
// AWS credential chain. Endpoint switches to path-style S3-compatible storage.
func NewS3Client(ctx context.Context, cfg config.AuditConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Archive(client objectPutter, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (a *S3Archive) key(paymentID, event string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s.json", ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()), safe(event))
	return path.Join(a.prefix, at.Format("2006/01/02"), safe(paymentID), name)
}

func (a *S3Archive) Archive(ctx context.Context, paymentID, event string, payload json.RawMessage) error {
	key := a.key(paymentID, event, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"payment-id": paymentID, "event": event},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// safe keeps object keys to one path segment.
func safe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
