package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/configtypes"
)

// PageStore is the durable-tier surface the resolve pipeline and batch
// jobs depend on. *DurableStore implements it; tests swap in an in-memory
// store.
type PageStore interface {
	PutPage(ctx context.Context, cacheKey string, html []byte) error
	GetPage(ctx context.Context, cacheKey string) ([]byte, bool, error)
	PageExists(ctx context.Context, cacheKey string) (bool, error)
	PutJob(ctx context.Context, jobID string, data []byte) error
	GetJob(ctx context.Context, jobID string) ([]byte, bool, error)
}

const (
	pageContentType = "text/html"
	jobContentType  = "application/json"
)

// DurableStore is the S3 tier. Complete pages live at {prefix}/{key}.html
// and batch job snapshots at {prefix}/batch/{id}.json. The endpoint and
// path-style options make it work against S3-compatible targets (R2, MinIO).
type DurableStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewDurableStore builds an S3 client from the service configuration.
// Static credentials are used when provided; otherwise the default AWS
// credential chain applies.
func NewDurableStore(ctx context.Context, cfg *configtypes.S3Config, logger *zap.Logger) (*DurableStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 config is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Debug("Durable store client created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("prefix", cfg.Prefix))

	return &DurableStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// PageObjectKey returns the object key for a cached page.
func (d *DurableStore) PageObjectKey(cacheKey string) string {
	return d.prefix + "/" + cacheKey + ".html"
}

// JobObjectKey returns the object key for a batch job snapshot.
func (d *DurableStore) JobObjectKey(jobID string) string {
	return d.prefix + "/batch/" + jobID + ".json"
}

// PutPage stores a complete rendered page.
func (d *DurableStore) PutPage(ctx context.Context, cacheKey string, html []byte) error {
	return d.put(ctx, d.PageObjectKey(cacheKey), html, pageContentType)
}

// GetPage fetches a page body. Missing keys return found=false, nil error.
func (d *DurableStore) GetPage(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	return d.get(ctx, d.PageObjectKey(cacheKey))
}

// PageExists checks for a page without downloading it.
func (d *DurableStore) PageExists(ctx context.Context, cacheKey string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.PageObjectKey(cacheKey)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %q: %w", d.PageObjectKey(cacheKey), err)
	}
	return true, nil
}

// PutJob stores a batch job snapshot.
func (d *DurableStore) PutJob(ctx context.Context, jobID string, data []byte) error {
	return d.put(ctx, d.JobObjectKey(jobID), data, jobContentType)
}

// GetJob fetches a batch job snapshot. Missing jobs return found=false.
func (d *DurableStore) GetJob(ctx context.Context, jobID string) ([]byte, bool, error) {
	return d.get(ctx, d.JobObjectKey(jobID))
}

func (d *DurableStore) put(ctx context.Context, objectKey string, body []byte, contentType string) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		d.logger.Error("Durable store put failed",
			zap.String("object_key", objectKey),
			zap.Error(err))
		return fmt.Errorf("put %q: %w", objectKey, err)
	}

	d.logger.Debug("Durable store object written",
		zap.String("object_key", objectKey),
		zap.Int("bytes", len(body)))
	return nil
}

func (d *DurableStore) get(ctx context.Context, objectKey string) ([]byte, bool, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		d.logger.Error("Durable store get failed",
			zap.String("object_key", objectKey),
			zap.Error(err))
		return nil, false, fmt.Errorf("get %q: %w", objectKey, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %q: %w", objectKey, err)
	}
	return body, true, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
