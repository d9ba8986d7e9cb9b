package client

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// StorageClient wraps the Google Cloud Storage client. Raw answer recordings
// are retained in a private bucket for moderation and replay.
type StorageClient struct {
	client     *storage.Client
	bucketName string
}

// NewStorageClient creates a new storage client.
func NewStorageClient(ctx context.Context, bucketName string) (*StorageClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &StorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *StorageClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Upload uploads data to cloud storage and returns the object path.
func (c *StorageClient) Upload(ctx context.Context, objectName string, data []byte) (string, error) {
	bucket := c.client.Bucket(c.bucketName)
	obj := bucket.Object(objectName)
	w := obj.NewWriter(ctx)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", c.bucketName, objectName), nil
}
