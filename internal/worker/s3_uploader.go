// internal/worker/s3_uploader.go
package worker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"gps2rest/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter 는 *s3.Client 의 PutObject 만 떼어낸 것 (테스트 대체용).
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type UploaderOptions struct {
	Bucket  string
	Timeout time.Duration // 시도당 timeout
	Retries int           // 전체 시도 횟수
}

// S3Uploader
//
// gzip+JSONL 배치를 S3 에 올린다.
// SDK 자체 retry 는 끄고 여기서 backoff(200ms → 최대 2s) 로 재시도한다.
type S3Uploader struct {
	opts    UploaderOptions
	metrics *metrics.Metrics
	client  objectPutter
}

// NewS3Uploader 는 기본 credential chain 으로 S3 client 를 만든다.
func NewS3Uploader(ctx context.Context, region string, opts UploaderOptions, m *metrics.Metrics) (*S3Uploader, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return newS3Uploader(client, opts, m), nil
}

func newS3Uploader(client objectPutter, opts UploaderOptions, m *metrics.Metrics) *S3Uploader {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &S3Uploader{opts: opts, metrics: m, client: client}
}

// UploadBytesWithRetryCtx
//
// body 는 재시도마다 새 reader 로 감싼다. ctx 가 끝나면 즉시 중단.
func (u *S3Uploader) UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= u.opts.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.putObject(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
			metrics.Inc(&u.metrics.ArchivePutErrorsTotal)
		}

		if attempt == u.opts.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return fmt.Errorf("put s3://%s/%s: %w", u.opts.Bucket, key, lastErr)
}

func (u *S3Uploader) putObject(ctx context.Context, key string, body []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, u.opts.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(u.opts.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
