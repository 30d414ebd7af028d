package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type S3Storage struct {
	client     *s3.Client
	bucketName string
	prefix     string
	logger     logger.Logger
}

func (s *S3Storage) objectKey(key string) *string {
	return aws.String(path.Join(s.prefix, key))
}

// Store 上传原始文档
func (s *S3Storage) Store(ctx context.Context, reader io.Reader, size int64, key, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    s.objectKey(key),
		Body:   reader,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to store document",
			logger.String("bucket", s.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	return key, nil
}

// Get 读取原始文档, a missing key wraps fs.ErrNotExist
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    s.objectKey(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("failed to get file %s: %w", key, fs.ErrNotExist)
		}
		s.logger.Error("Failed to get document",
			logger.String("bucket", s.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return result.Body, nil
}

// Delete 删除原始文档. S3 reports success for missing keys.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    s.objectKey(key),
	})
	if err != nil {
		s.logger.Error("Failed to delete document",
			logger.String("bucket", s.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func NewS3Storage(ctx context.Context, s3Config *cfg.S3Config, log logger.Logger) (*S3Storage, error) {
	if s3Config.BucketName == "" {
		return nil, errors.New("AWS_S3_BUCKET_NAME is not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(s3Config.Region)}
	// 未配置静态密钥时使用默认凭证链
	if s3Config.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s3Config.AccessKey,
			s3Config.SecretKey,
			"",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3Config.BucketName),
	}); err != nil {
		return nil, fmt.Errorf("failed to verify bucket %s: %w", s3Config.BucketName, err)
	}

	log.Info("S3 storage ready",
		logger.String("bucket", s3Config.BucketName),
		logger.String("region", s3Config.Region),
		logger.String("prefix", s3Config.KeyPrefix),
	)
	return &S3Storage{
		client:     client,
		bucketName: s3Config.BucketName,
		prefix:     s3Config.KeyPrefix,
		logger:     log.Named("s3"),
	}, nil
}

func GetClient(ctx context.Context, log logger.Logger) (*S3Storage, error) {
	return NewS3Storage(ctx, cfg.GetS3Config(), log)
}
