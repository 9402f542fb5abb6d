package sync

import (
	"context"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/mschirtzinger/nvd-cache/internal/store"
)

// Syncer keeps the local cache in step with the remote feed.
//
// A run walks the configured partitions strictly in order. For each one it
// compares the stored fingerprint with the current one and refetches the
// record batch only when the partition changed or a refresh is forced.
//
// A run is not resilient: the first failing partition aborts it and the
// error is returned. Partitions committed before the failure stay committed.
type Syncer interface {
	// Run performs one sync pass over every configured partition.
	//
	// The schema is created first if needed. Cancellation is observed between
	// partitions only; a partition that has started is carried through.
	//
	// On failure the returned Result describes the partitions finished before
	// the error and the error keeps its cacheerr kind.
	//
	// Example:
	//   res, err := syncer.Run(ctx)
	Run(ctx context.Context) (*Result, error)
}

// Store is the part of the local store a sync run writes through.
// *store.Store satisfies it.
type Store interface {
	EnsureSchema(ctx context.Context) error
	GetPartitionMetadata(ctx context.Context, names []string) ([]store.PartitionState, error)
	UpsertPartitionMetadata(ctx context.Context, name string, meta *feed.Metadata) error
	UpsertRecords(ctx context.Context, batch *feed.RecordBatch, cutoff *time.Time) (int, error)
}

// Config is the immutable input of a sync run.
type Config struct {
	// Partitions are processed in this order. Rolling windows such as
	// "recent" and "modified" must come after the yearly partitions, or a
	// yearly replay can overwrite fresher data in the same run.
	Partitions []string
	// ForceUpdate refetches every partition regardless of fingerprints.
	ForceUpdate bool
}

// Result summarises one run.
type Result struct {
	RunID      string
	Partitions []PartitionResult
	Duration   time.Duration
}

// Updated returns how many partitions were refetched.
func (r *Result) Updated() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, p := range r.Partitions {
		if p.Updated {
			n++
		}
	}
	return n
}

// Skipped returns the total number of records dropped by cutoff checks.
func (r *Result) Skipped() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, p := range r.Partitions {
		n += p.Skipped
	}
	return n
}

// PartitionResult describes what happened to one partition.
type PartitionResult struct {
	Name string
	// Updated is false when the stored fingerprint was already current.
	Updated bool
	// Records is the size of the fetched batch, zero when not updated.
	Records int
	// Skipped counts records newer than the cutoff.
	Skipped int
	// Previous is the fingerprint stored before the run, nil on first sync.
	Previous *feed.Metadata
	// Current is the fingerprint fetched during the run.
	Current *feed.Metadata
}
