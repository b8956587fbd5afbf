// Пакет storageclient — чтение исходных файлов и OCR-текстов
// из S3-совместимого объектного хранилища (MinIO).
package storageclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/civicarchive/ingest-module/internal/config"
)

// Client — клиент объектного хранилища. Доступ только на чтение:
// файлы пишет сервис загрузки, Ingest Module их лишь потребляет.
type Client struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт клиент хранилища.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(cfg.StorageEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Secure: cfg.StorageUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента хранилища: %w", err)
	}

	return &Client{
		mc:     mc,
		bucket: cfg.StorageBucket,
		logger: logger.With(slog.String("component", "storage_client")),
	}, nil
}

// Download читает объект по пути целиком.
// Ведущий слэш в path игнорируется.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	key := strings.TrimPrefix(path, "/")

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса объекта %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}

	c.logger.Debug("Объект прочитан из хранилища",
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return data, nil
}

// CheckReady проверяет доступность хранилища (существование bucket).
// Реализует интерфейс handlers.ReadinessChecker.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	if !exists {
		return "fail", fmt.Sprintf("bucket %s не существует", c.bucket)
	}
	return "ok", "bucket доступен"
}
