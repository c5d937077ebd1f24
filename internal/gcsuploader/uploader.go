// Package gcsuploader moves ingestion sources in and out of Google Cloud
// Storage.
package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// uploadTimeout bounds a single upload.
const uploadTimeout = 2 * time.Minute

// Client is a StorageService sharing one storage client across calls.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type Client struct {
	client *storage.Client
}

// NewClient creates a storage client.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close closes the storage client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// UploadFile uploads a local file to a GCS bucket under the given object name
// and returns its gs:// URI.
func (c *Client) UploadFile(ctx context.Context, bucketName, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return c.UploadReader(ctx, bucketName, objectName, f)
}

// UploadReader copies r into a new object and returns its gs:// URI.
func (c *Client) UploadReader(ctx context.Context, bucketName, objectName string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context aborts the upload; Close reports why.
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("UploadReader: copy to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("UploadReader: finalize upload: %w", err)
	}

	return URI(bucketName, objectName), nil
}

// NewObjectReader opens the object at gcsURI. The caller closes the reader.
func (c *Client) NewObjectReader(ctx context.Context, gcsURI string) (io.ReadCloser, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("NewObjectReader: %w", err)
	}

	rc, err := c.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewObjectReader: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	return rc, nil
}

// IsNotExist reports whether err means the bucket or object does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist)
}

// ParseURI splits a gs://bucket/object URI.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	// gcsURI example: gs://my-bucket/path/to/file.txt
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}

	return parts[0], parts[1], nil
}

// URI builds the gs:// URI of an object.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.txt" → "file.txt"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}

// ArchiveObjectName returns the object name under which an upload received
// at t is archived: prefix/YYYY/MM/DD/<unix-nanos>_<base name>.
func ArchiveObjectName(prefix, filename string, t time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload.txt"
	}
	t = t.UTC()
	name := fmt.Sprintf("%04d/%02d/%02d/%d_%s", t.Year(), int(t.Month()), t.Day(), t.UnixNano(), base)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		name = prefix + "/" + name
	}
	return name
}

var _ StorageService = (*Client)(nil)
