package uploader

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pokerjest/animeleech/internal/config"
)

// ObjectPutter is the slice of the S3 API the destination uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Transport stores documents in an S3-compatible bucket (R2, MinIO, AWS).
type S3Transport struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Client builds a path-style client against a custom endpoint.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 configuration is incomplete")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	}), nil
}

func NewS3Transport(client ObjectPutter, bucket, prefix string) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// Key is the object key a document name is stored under.
func (s *S3Transport) Key(name string) string {
	p := strings.Trim(s.prefix, "/")
	if p == "" {
		return name
	}
	return path.Join(p, name)
}

func (s *S3Transport) Send(ctx context.Context, doc Document) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(doc.Name)),
		Body:          doc.Body,
		ContentLength: aws.Int64(doc.Size),
	}
	_, err := s.client.PutObject(ctx, input)
	return err
}
