// Package loadtest exercises the local cache under concurrent readers.
//
// It populates a throwaway cache with synthetic CVE records and measures
// lookup latency while many goroutines query it, optionally while a writer
// keeps replacing records underneath them.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/mschirtzinger/nvd-cache/internal/query"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"go.uber.org/multierr"
)

// populateBatchSize is how many records go into one upsert transaction.
const populateBatchSize = 500

// vocabulary seeds the synthetic descriptions so text searches hit.
var vocabulary = []string{
	"buffer overflow", "use-after-free", "SQL injection", "cross-site scripting",
	"path traversal", "denial of service", "privilege escalation", "race condition",
}

// Fixture is a populated cache ready for load.
type Fixture struct {
	Store *store.Store
	IDs   []string
	Terms []string
}

// LatencyStats captures query latency across all workers.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
}

// Options controls a load run.
type Options struct {
	// Workers is the number of concurrent readers.
	Workers int
	// QueriesPerWorker is how many lookups each reader performs.
	QueriesPerWorker int
	// TextEvery makes every n-th query a description search. Zero disables them.
	TextEvery int
}

// Populate creates a cache at path holding n synthetic records.
func Populate(ctx context.Context, path string, n int) (*Fixture, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	fx := &Fixture{Store: st, IDs: make([]string, 0, n), Terms: vocabulary}
	items := generateItems(n, 0)
	for start := 0; start < len(items); start += populateBatchSize {
		end := min(start+populateBatchSize, len(items))
		batch := &feed.RecordBatch{Items: items[start:end]}
		if _, err := st.UpsertRecords(ctx, batch, nil); err != nil {
			return nil, fmt.Errorf("populate records %d-%d: %w", start, end, err)
		}
	}
	for _, it := range items {
		fx.IDs = append(fx.IDs, it.ID)
	}
	return fx, nil
}

// Run has opts.Workers goroutines query the fixture concurrently and
// returns aggregated latency. Query errors are counted and joined.
func (fx *Fixture) Run(ctx context.Context, opts Options) (*LatencyStats, error) {
	if opts.Workers <= 0 || opts.QueriesPerWorker <= 0 {
		return nil, fmt.Errorf("loadtest: workers and queries must be positive")
	}
	if len(fx.IDs) == 0 {
		return nil, fmt.Errorf("loadtest: fixture has no records")
	}

	svc := query.New(fx.Store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations = make([]time.Duration, 0, opts.Workers*opts.QueriesPerWorker)
		errs      error
		failed    int
	)
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			local := make([]time.Duration, 0, opts.QueriesPerWorker)
			var localErr error
			for q := 0; q < opts.QueriesPerWorker && ctx.Err() == nil; q++ {
				start := time.Now()
				var err error
				if opts.TextEvery > 0 && q%opts.TextEvery == opts.TextEvery-1 {
					_, err = svc.FindByDescription(ctx, fx.Terms[rng.Intn(len(fx.Terms))])
				} else {
					_, err = svc.FindByID(ctx, fx.IDs[rng.Intn(len(fx.IDs))])
				}
				local = append(local, time.Since(start))
				if err != nil {
					localErr = multierr.Append(localErr, fmt.Errorf("worker %d query %d: %w", worker, q, err))
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			failed += len(multierr.Errors(localErr))
			errs = multierr.Append(errs, localErr)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	if len(durations) == 0 {
		return nil, multierr.Append(fmt.Errorf("loadtest: no queries completed"), ctx.Err())
	}
	stats := ComputeLatencyStats(durations)
	stats.Errors = failed
	return stats, errs
}

// RunWithWriter runs readers for d while one writer keeps replacing the
// fixture's records. Readers must always find every existing record.
func (fx *Fixture) RunWithWriter(ctx context.Context, workers int, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	svc := query.New(fx.Store)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	report := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; ctx.Err() == nil; gen++ {
			batch := &feed.RecordBatch{Items: generateItems(min(len(fx.IDs), populateBatchSize), gen)}
			if _, err := fx.Store.UpsertRecords(ctx, batch, nil); err != nil && ctx.Err() == nil {
				report(fmt.Errorf("writer generation %d: %w", gen, err))
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			for ctx.Err() == nil {
				id := fx.IDs[rng.Intn(len(fx.IDs))]
				rec, err := svc.FindByID(ctx, id)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					if cacheerr.IsNotFound(err) {
						err = fmt.Errorf("record %s vanished during write: %w", id, err)
					}
					report(fmt.Errorf("reader %d: %w", worker, err))
					return
				}
				if rec.ID != id {
					report(fmt.Errorf("reader %d: asked for %s, got %s", worker, id, rec.ID))
					return
				}
			}
		}(w)
	}

	wg.Wait()
	return errs
}

// generateItems builds n synthetic records. gen varies descriptions and
// timestamps between writer passes while keeping the IDs stable.
func generateItems(n, gen int) []feed.BatchItem {
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]feed.BatchItem, n)
	for i := range items {
		id := fmt.Sprintf("CVE-2021-%05d", i)
		modified := base.Add(time.Duration(i+gen) * time.Minute)
		desc := fmt.Sprintf("Synthetic %s in component %d (rev %d).", vocabulary[i%len(vocabulary)], i, gen)
		items[i] = feed.BatchItem{
			ID:           id,
			LastModified: modified,
			Descriptions: []feed.LocalizedText{{Lang: "en", Value: desc}},
			Payload: fmt.Sprintf(`{"cve":{"CVE_data_meta":{"ID":%q},"description":{"description_data":[{"lang":"en","value":%q}]}},"lastModifiedDate":%q}`,
				id, desc, modified.Format("2006-01-02T15:04Z")),
		}
	}
	return items
}

// ComputeLatencyStats summarises durations. The input is not modified.
func ComputeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// Write prints the statistics as an aligned table.
func (s *LatencyStats) Write(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
