package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yungbote/fooddata-graph/internal/platform/envutil"
)

// Config holds explicit construction parameters. Empty fields fall back to
// the default AWS credential and region chain.
type Config struct {
	Region          string
	Endpoint        string // optional; S3-compatible endpoint such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	HTTPClient      *http.Client
}

// Environment variables:
//   FDC_S3_REGION (default AWS_REGION, then us-east-1)
//   FDC_S3_ENDPOINT, FDC_S3_PATH_STYLE
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY via the default chain
func ConfigFromEnv() Config {
	return Config{
		Region:    envutil.String("FDC_S3_REGION", envutil.String("AWS_REGION", "us-east-1")),
		Endpoint:  envutil.String("FDC_S3_ENDPOINT", ""),
		PathStyle: envutil.Bool("FDC_S3_PATH_STYLE", false),
	}
}

type Reader struct {
	client *s3.Client
}

func New(ctx context.Context, cfg Config) (*Reader, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("awss3: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &Reader{client: client}, nil
}

// ErrNotFound is returned when the bucket or key does not exist.
var ErrNotFound = errors.New("s3 object not found")

// Open streams s3://bucket/key.
func (r *Reader) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("awss3: bucket and key required")
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("awss3: get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
