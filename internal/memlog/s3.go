package memlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// s3API is the subset of the S3 client the log uses; narrowed for tests.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Log keeps day logs as NDJSON objects under
// <prefix>/<conv_id>/<YYYY-MM-DD>.ndjson. Append is read-modify-write:
// day objects are small (a bounded buffer's worth of turns) so the
// round trip stays cheap.
type S3Log struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Log builds the driver from ambient AWS credentials. A custom
// endpoint switches the client to path-style addressing for MinIO.
func NewS3Log(ctx context.Context, cfg config.S3Config) (*S3Log, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Log{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func newS3LogWithClient(client s3API, bucket, prefix string) *S3Log {
	return &S3Log{client: client, bucket: bucket, prefix: prefix}
}

func (l *S3Log) key(convID string, day time.Time) string {
	return path.Join(l.prefix, convID, day.UTC().Format(dayLayout)+".ndjson")
}

func (l *S3Log) Append(ctx context.Context, turn models.ConversationTurn) error {
	key := l.key(turn.ConvID, turn.Timestamp)
	existing, err := l.read(ctx, key)
	if err != nil {
		return err
	}
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	body := append(existing, append(line, '\n')...)
	_, err = l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return nil
}

func (l *S3Log) ReadDay(ctx context.Context, convID string, day time.Time) ([]models.ConversationTurn, error) {
	raw, err := l.read(ctx, l.key(convID, day))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeLines(bufio.NewScanner(bytes.NewReader(raw))), nil
}

// read fetches an object's bytes; a missing key is an empty log.
func (l *S3Log) read(ctx context.Context, key string) ([]byte, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return raw, nil
}
