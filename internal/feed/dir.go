package feed

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
)

// DirSource reads partitions from a local mirror directory laid out with the
// published file names. A plain .json file is used when the .json.gz file is
// absent.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over dir. The directory must exist.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, cacheerr.Transport("open mirror", err)
	}
	if !info.IsDir() {
		return nil, cacheerr.Transport("open mirror", &fs.PathError{Op: "open", Path: dir, Err: errors.New("not a directory")})
	}
	return &DirSource{dir: dir}, nil
}

// Dir returns the mirror directory.
func (s *DirSource) Dir() string {
	return s.dir
}

// FetchMetadata implements Source.
func (s *DirSource) FetchMetadata(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", cacheerr.Transport("read metadata", err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, MetadataFileName(name)))
	if err != nil {
		return "", cacheerr.Transport("read metadata", err)
	}
	return string(data), nil
}

// FetchBatch implements Source.
func (s *DirSource) FetchBatch(ctx context.Context, name string) (*RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, cacheerr.Transport("read feed", err)
	}

	gzPath := filepath.Join(s.dir, BatchFileName(name))
	data, err := readGzipFile(gzPath)
	if errors.Is(err, fs.ErrNotExist) {
		// #nosec G304 - path built from configured mirror dir
		data, err = os.ReadFile(strings.TrimSuffix(gzPath, ".gz"))
	}
	if err != nil {
		return nil, cacheerr.Transport("read feed", err)
	}

	return DecodeBatch(data)
}

func readGzipFile(path string) ([]byte, error) {
	// #nosec G304 - path built from configured mirror dir
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
