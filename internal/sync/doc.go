// Package sync mirrors remote NVD feed partitions into the local cache.
//
// Overview
//
// A run walks the configured partitions in order and, for each one, fetches
// the small metadata file, compares its last_modified with the stored
// fingerprint, and only then decides whether the much larger record batch is
// worth downloading.
//
//	feed.Source                     store.Store
//	   ├── nvdcve-1.1-<name>.meta  ──→  partition_metadata
//	   └── nvdcve-1.1-<name>.json.gz ─→ records
//	                  ↑
//	                Syncer
//
// Usage
//
//	st, err := store.Open(cfg.DB)
//	if err != nil {
//	    return err
//	}
//
//	src, err := feed.NewHTTPSource(cfg.URL)
//	if err != nil {
//	    return err
//	}
//
//	syncer := sync.New(st, src, cfg.SyncConfig(),
//	    sync.WithProgress(bar))
//
//	res, err := syncer.Run(ctx)
//	if err != nil {
//	    return err
//	}
//
// Decision rule
//
// A partition is skipped when it has a stored fingerprint, ForceUpdate is
// off, and the stored last_modified is not older than the fetched one.
// Otherwise the batch is fetched and written in one transaction with the
// previously stored last_modified as cutoff: records claiming a newer
// timestamp are dropped and counted in PartitionResult.Skipped. The fetched
// fingerprint is stored afterwards.
//
// Ordering
//
// Record ids are global. When two partitions carry the same id, the one
// processed last wins, so rolling windows ("recent", "modified") belong at
// the end of Config.Partitions.
//
// Progress
//
// Each partition contributes four checkpoints (metadata fetched, decided,
// batch fetched, committed). A skipped partition completes its remaining
// checkpoints at once, so a successful run always ends at 100%.
//
// Error Handling
//
// The first error aborts the run and is returned with its cacheerr kind
// intact:
//
//   - cacheerr.ErrTransport for fetch failures
//   - cacheerr.ErrMetadataFormat for malformed metadata text
//   - cacheerr.ErrSerialization for undecodable batches
//   - cacheerr.ErrStorage for database failures
//
// Partitions committed before the failure remain committed. Nothing is
// retried.
//
// Concurrency
//
// A Syncer processes partitions sequentially and must not be Run from two
// goroutines at once against the same store; internal/daemon serializes
// its runs for that reason.
package sync
