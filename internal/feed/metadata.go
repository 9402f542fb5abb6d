// Package feed describes remote CVE feed partitions: the metadata fingerprint
// published next to every partition, the record batches they contain, and the
// Source capability that fetches both.
package feed

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"go.uber.org/zap"
)

// TimestampLayout is how last-modified timestamps are stored locally (UTC, no offset).
const TimestampLayout = "2006-01-02T15:04:05"

// metadataFields is the number of label:value lines in a metadata file.
const metadataFields = 5

// Metadata parse failures. Each is wrapped in a cacheerr.KindMetadataFormat error.
var (
	// ErrLine is returned when the text has fewer than five lines.
	ErrLine = errors.New("metadata has too few lines")

	// ErrSplit is returned when a line has no label:value separator.
	ErrSplit = errors.New("metadata line has no ':' separator")

	// ErrParseInt is returned when a size field is not an unsigned integer.
	// The *strconv.NumError is kept in the chain.
	ErrParseInt = errors.New("metadata size is not an unsigned integer")
)

// Metadata is the freshness fingerprint of one feed partition.
type Metadata struct {
	// LastModified decides staleness; the other fields are informational.
	LastModified time.Time

	// Size of the uncompressed feed in bytes.
	Size uint64

	// ZipSize is the size of the zip archive in bytes.
	ZipSize uint64

	// GzSize is the size of the gzip archive in bytes.
	GzSize uint64

	// SHA256 of the uncompressed feed, stored verbatim and never verified.
	SHA256 string
}

// ParseMetadata parses the five-line label:value metadata text published for
// every partition. Only the text after the first colon of each line is used.
//
//	lastModifiedDate:2021-12-18T19:00:00
//	size:1744779
//	zipSize:116171
//	gzSize:116031
//	sha256:0EA38A97...
func ParseMetadata(text string) (*Metadata, error) {
	lines := strings.Split(text, "\n")

	values := make([]string, 0, metadataFields)
	for i := 0; i < metadataFields; i++ {
		if i >= len(lines) || (i == len(lines)-1 && lines[i] == "") {
			return nil, cacheerr.MetadataFormat("parse metadata",
				fmt.Errorf("%w: got %d, want %d", ErrLine, i, metadataFields))
		}
		_, value, ok := strings.Cut(strings.TrimSuffix(lines[i], "\r"), ":")
		if !ok {
			return nil, cacheerr.MetadataFormat("parse metadata",
				fmt.Errorf("%w: line %d", ErrSplit, i+1))
		}
		values = append(values, value)
	}

	sizes := make([]uint64, 3)
	for i := range sizes {
		n, err := strconv.ParseUint(values[i+1], 10, 64)
		if err != nil {
			return nil, cacheerr.MetadataFormat("parse metadata",
				fmt.Errorf("%w: line %d: %w", ErrParseInt, i+2, err))
		}
		sizes[i] = n
	}

	return &Metadata{
		LastModified: ParseTimestamp(values[0]),
		Size:         sizes[0],
		ZipSize:      sizes[1],
		GzSize:       sizes[2],
		SHA256:       values[4],
	}, nil
}

// ReadMetadataFile parses a metadata file from disk.
func ReadMetadataFile(path string) (*Metadata, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cacheerr.Transport("read metadata file", err)
	}
	return ParseMetadata(string(data))
}

// FormatLastModified renders LastModified in the local storage layout.
func (m *Metadata) FormatLastModified() string {
	return FormatTimestamp(m.LastModified)
}

// ParseTimestamp parses a partition timestamp from a metadata file or from the
// local store. RFC3339 is tried first, then TimestampLayout. Unparseable input
// is logged and yields the Unix epoch.
func ParseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t
	}
	logging.WithModule("feed").Warn("failed parsing timestamp", zap.String("value", s))
	return time.Unix(0, 0).UTC()
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
