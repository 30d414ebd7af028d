package minio

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// MinioStorage keeps uploaded originals under a key prefix of one bucket.
type MinioStorage struct {
	client     *minio.Client
	bucketName string
	prefix     string
	logger     logger.Logger
}

func (m *MinioStorage) objectKey(key string) string {
	return path.Join(m.prefix, key)
}

// Store uploads the original. size may be -1, minio then streams in parts.
func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, size int64, key, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucketName, m.objectKey(key), reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		m.logger.Error("Failed to store document",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	m.logger.Debug("Document stored", logger.String("key", key), logger.Int64("size", info.Size))
	return key, nil
}

// Get opens the original. GetObject is lazy, so the object is stat'ed first
// to report a missing key here rather than on the first read.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, m.objectKey(key), minio.GetObjectOptions{})
	if err == nil {
		_, err = obj.Stat()
		if err != nil {
			obj.Close()
		}
	}
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("failed to get file %s: %w", key, fs.ErrNotExist)
		}
		m.logger.Error("Failed to get document",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return obj, nil
}

// Delete removes the original. A missing object is not an error.
func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, m.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !notFound(err) {
		m.logger.Error("Failed to delete document",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func NewMinioStorage(ctx context.Context, minioConfig *cfg.MinioConfig, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(minioConfig.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioConfig.AccessKey, minioConfig.SecretKey, ""),
		Secure: minioConfig.UseSSL,
		Region: minioConfig.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, minioConfig.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	// 桶不存在时自动创建
	if !exists {
		err = client.MakeBucket(ctx, minioConfig.BucketName, minio.MakeBucketOptions{
			Region: minioConfig.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("Bucket created", logger.String("bucket", minioConfig.BucketName))
	}

	return &MinioStorage{
		client:     client,
		bucketName: minioConfig.BucketName,
		prefix:     minioConfig.KeyPrefix,
		logger:     log.Named("minio"),
	}, nil
}

func GetClient(ctx context.Context, log logger.Logger) (*MinioStorage, error) {
	return NewMinioStorage(ctx, cfg.GetMinioConfig(), log)
}
