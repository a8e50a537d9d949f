package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"EchoFM/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
)

// InitMinio 初始化 MinIO 客户端
func InitMinio() error {
	cfg := config.Load()

	log.Printf("正在连接 MinIO 服务器...")
	log.Printf("Endpoint: %s", cfg.MinioEndpoint)
	log.Printf("Bucket: %s", cfg.MinioBucket)
	if len(cfg.MinioAccessKey) > 4 {
		log.Printf("AccessKey: %s...", cfg.MinioAccessKey[:4])
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %v", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %v", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %v", err)
		}
		log.Printf("✅ 成功创建存储桶: %s", cfg.MinioBucket)
	} else {
		log.Printf("✅ 存储桶已存在: %s", cfg.MinioBucket)
	}

	minioClient = client
	log.Println("✅ MinIO 客户端初始化成功！")
	return nil
}

// GetMinioClient 获取 MinIO 客户端实例
func GetMinioClient() *minio.Client {
	return minioClient
}

// URLSigner issues time-limited fetchable URLs for storage-backed audio
// references. The resolver depends on this interface, not on MinIO.
type URLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error)
}

// MinioSigner 基于 MinIO 预签名 URL 的 URLSigner 实现
type MinioSigner struct{}

// NewMinioSigner 创建签名器。必须先调用 InitMinio
func NewMinioSigner() *MinioSigner {
	return &MinioSigner{}
}

// SignedURL 为指定对象生成预签名 GET URL
func (s *MinioSigner) SignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error) {
	if minioClient == nil {
		return "", fmt.Errorf("MinIO client not initialized")
	}

	signed, err := minioClient.PresignedGetObject(ctx, bucket, object, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s/%s: %w", bucket, object, err)
	}
	return signed.String(), nil
}

// UploadObject 上传对象到存储桶，返回对象的存储路径。
// 广告素材投放 worker 使用
func UploadObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if minioClient == nil {
		return "", fmt.Errorf("MinIO client not initialized")
	}

	cfg := config.Load()
	_, err := minioClient.PutObject(ctx, cfg.MinioBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", objectName, err)
	}

	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, cfg.MinioEndpoint, cfg.MinioBucket, objectName), nil
}
