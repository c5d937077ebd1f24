package gcsuploader

import (
	"context"
	"io"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// UploadFile uploads a local file to a storage bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) (string, error)

	// UploadReader streams r to a storage bucket and returns the object's gs:// URI.
	UploadReader(ctx context.Context, bucketName, objectName string, r io.Reader) (string, error)

	// NewObjectReader opens the object at a gs:// URI for reading.
	NewObjectReader(ctx context.Context, gcsURI string) (io.ReadCloser, error)
}
