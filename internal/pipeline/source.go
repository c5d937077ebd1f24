package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ObjectReader opens objects in cloud storage by gs:// URI.
type ObjectReader interface {
	NewObjectReader(ctx context.Context, gcsURI string) (io.ReadCloser, error)
}

// OpenSource opens a local file path or a gs:// URI. objects may be nil when
// only local files are used.
func OpenSource(ctx context.Context, source string, objects ObjectReader) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "gs://") {
		if objects == nil {
			return nil, fmt.Errorf("OpenSource: no storage client configured for %s", source)
		}
		rc, err := objects.NewObjectReader(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("OpenSource: %w", err)
		}
		return rc, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("OpenSource: %w", err)
	}
	return f, nil
}

// IngestSource opens source and ingests it.
func (i *Ingestor) IngestSource(ctx context.Context, source string, objects ObjectReader) (*domain.IngestionResult, error) {
	rc, err := OpenSource(ctx, source, objects)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return i.Ingest(ctx, source, rc)
}

// FilenameOf returns the base name of a path or gs:// URI.
// e.g., "gs://bucket/folder/file.txt" → "file.txt"
func FilenameOf(source string) string {
	if strings.HasPrefix(source, "gs://") {
		return gcsuploader.ExtractFilenameFromGCSURI(source)
	}
	return filepath.Base(source)
}

// decodeReader converts r from charset to UTF-8. A leading UTF-8 byte order
// mark is dropped.
func decodeReader(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	}
	return nil, fmt.Errorf("decodeReader: unsupported charset %q", charset)
}
