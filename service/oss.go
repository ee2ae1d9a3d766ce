package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"AdForge-server/config"
	"AdForge-server/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore 产物对象存储。编排器只依赖这个接口，
// 生产走 MinIO，测试/本地走内存实现。
type BlobStore interface {
	// Upload 上传并返回可访问 URL
	Upload(ctx context.Context, reader io.Reader, size int64, objectName string) (string, error)
	// Download 按 URL 取回字节（合成成片时要读回场景图/音频）
	Download(ctx context.Context, rawURL string) ([]byte, error)
	// Delete 按 URL 删除，尽力而为
	Delete(ctx context.Context, rawURL string) error
}

// MinioBlob MinIO 实现
type MinioBlob struct {
	client *minio.Client
	bucket string
	domain string
}

func NewMinioBlob() (*MinioBlob, error) {
	cfg := config.AppConfig.MinIO
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	return &MinioBlob{client: client, bucket: cfg.Bucket, domain: cfg.Domain}, nil
}

// contentTypeFor 根据扩展名确定 ContentType
func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}

func (b *MinioBlob) ensureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		log.Printf("Bucket '%s' 已创建", b.bucket)
	}
	return nil
}

func (b *MinioBlob) Upload(ctx context.Context, reader io.Reader, size int64, objectName string) (string, error) {
	if err := b.ensureBucket(ctx); err != nil {
		return "", err
	}

	_, err := b.client.PutObject(ctx, b.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}
	log.Printf("文件已上传: %s", objectName)

	// 配了公网域名就返回稳定 URL，否则用 72h 预签名
	if b.domain != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(b.domain, "/"), b.bucket, objectName), nil
	}
	presignedURL, err := b.client.PresignedGetObject(ctx, b.bucket, objectName, 72*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presignedURL.String(), nil
}

func (b *MinioBlob) Download(ctx context.Context, rawURL string) ([]byte, error) {
	objectName, err := b.objectName(rawURL)
	if err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, b.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象失败: %w", err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (b *MinioBlob) Delete(ctx context.Context, rawURL string) error {
	objectName, err := b.objectName(rawURL)
	if err != nil {
		return err
	}
	return b.client.RemoveObject(ctx, b.bucket, objectName, minio.RemoveObjectOptions{})
}

// objectName 从 URL path 剥掉 bucket 前缀还原对象名
func (b *MinioBlob) objectName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("解析对象 URL 失败: %w", err)
	}
	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimPrefix(p, b.bucket+"/")
	if p == "" {
		return "", fmt.Errorf("URL 中没有对象名: %s", rawURL)
	}
	return p, nil
}

// MemoryBlob 内存对象存储：本地开发与测试
type MemoryBlob struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{objects: make(map[string][]byte)}
}

func (b *MemoryBlob) Upload(ctx context.Context, reader io.Reader, size int64, objectName string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.objects[objectName] = data
	b.mu.Unlock()
	return "mem://blob/" + objectName, nil
}

func (b *MemoryBlob) Download(ctx context.Context, rawURL string) ([]byte, error) {
	objectName := strings.TrimPrefix(rawURL, "mem://blob/")
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[objectName]
	if !ok {
		return nil, models.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBlob) Delete(ctx context.Context, rawURL string) error {
	objectName := strings.TrimPrefix(rawURL, "mem://blob/")
	b.mu.Lock()
	delete(b.objects, objectName)
	b.mu.Unlock()
	return nil
}

// Len 测试用：当前对象数量
func (b *MemoryBlob) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
