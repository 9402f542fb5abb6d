package feed

import (
	"context"
	"fmt"
)

// Source fetches partition data from wherever the feed is published.
//
// Implementations own transport concerns (decompression, authentication,
// retries). Failures should be cacheerr.KindTransport errors.
type Source interface {
	// FetchMetadata returns the raw metadata text for the named partition.
	FetchMetadata(ctx context.Context, name string) (string, error)

	// FetchBatch returns the decoded record batch for the named partition.
	FetchBatch(ctx context.Context, name string) (*RecordBatch, error)
}

// MetadataFileName is the published name of a partition's metadata file.
func MetadataFileName(name string) string {
	return fmt.Sprintf("nvdcve-1.1-%s.meta", name)
}

// BatchFileName is the published name of a partition's gzipped feed.
func BatchFileName(name string) string {
	return fmt.Sprintf("nvdcve-1.1-%s.json.gz", name)
}
