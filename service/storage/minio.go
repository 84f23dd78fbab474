package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/khaledhikmat/vs-batch/service/config"
	"github.com/khaledhikmat/vs-batch/service/lgr"
)

type minioService struct {
	client *miniogo.Client
	bucket string
	scheme string
}

// NewMinio uploads artifacts to an S3 compatible bucket, creating it when
// missing.
func NewMinio(ctx context.Context, params config.MinioParameters) (IService, error) {
	client, err := miniogo.New(params.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(params.AccessKey, params.SecretKey, ""),
		Secure: params.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, params.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", params.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, params.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", params.Bucket, err)
		}
		lgr.Logger.Info("bucket created", slog.String("bucket", params.Bucket))
	}

	scheme := "http"
	if params.UseSSL {
		scheme = "https"
	}

	return &minioService{
		client: client,
		bucket: params.Bucket,
		scheme: scheme,
	}, nil
}

func (svc *minioService) StoreFile(ctx context.Context, fileName, key string) (string, error) {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")

	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := svc.client.FPutObject(ctx, svc.bucket, key, fileName, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return fmt.Sprintf("%s://%s/%s/%s", svc.scheme, svc.client.EndpointURL().Host, info.Bucket, info.Key), nil
}
