package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	_ storage.ArtifactStore = (*MinIOStore)(nil)
	_ storage.ArtifactStore = (*Memory)(nil)
)

// MinIOStore keeps session reports and catalog exports in a MinIO bucket.
type MinIOStore struct {
	client     *minio.Client
	bucketName string
	logger     *slog.Logger
}

// NewMinIOStore connects to MinIO and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool, logger *slog.Logger) (*MinIOStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("minio bucket name is not configured")
	}
	client, err := minio.New(endpoint, &minio.Options{Creds: credentials.NewStaticV4(accessKey, secretKey, ""), Secure: useSSL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", endpoint))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := client.BucketExists(ctx, bucketName)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", bucketName, err)
		}
		logger.Info("MinIO bucket already exists", slog.String("bucket", bucketName))
	} else {
		logger.Info("Successfully created MinIO bucket", slog.String("bucket", bucketName))
	}

	return &MinIOStore{client: client, bucketName: bucketName, logger: logger}, nil
}

// StoreArtifact uploads data to the configured bucket and returns its URL.
func (s *MinIOStore) StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	uploadInfo, err := s.client.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact '%s': %w", objectName, err)
	}
	s.logger.Info("Stored artifact", slog.String("bucket", uploadInfo.Bucket), slog.String("key", uploadInfo.Key), slog.Int64("size", uploadInfo.Size))
	return objectURL(s.client.EndpointURL(), s.bucketName, objectName), nil
}

func objectURL(endpoint *url.URL, bucket, objectName string) string {
	u := url.URL{Scheme: "http", Host: endpoint.Host, Path: "/" + path.Join(bucket, objectName)}
	if endpoint.Scheme == "https" {
		u.Scheme = "https"
	}
	return u.String()
}

// Memory keeps artifacts in process. Used when MinIO is not configured and in tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory returns an empty in-memory artifact store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// StoreArtifact reads the whole object into memory.
func (m *Memory) StoreArtifact(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact '%s': %w", objectName, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return "mem://" + objectName, nil
}

// Object returns a stored object and whether it exists.
func (m *Memory) Object(objectName string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	return bytes.Clone(data), ok
}
