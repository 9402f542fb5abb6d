package sync

// Stage is a checkpoint within one partition.
type Stage int

const (
	StageMetadataFetched Stage = iota + 1
	StageDecided
	StageBatchFetched
	StageCommitted
)

// CheckpointsPerPartition is the number of progress steps each partition
// contributes to a run.
const CheckpointsPerPartition = 4

func (s Stage) String() string {
	switch s {
	case StageMetadataFetched:
		return "metadata fetched"
	case StageDecided:
		return "decided"
	case StageBatchFetched:
		return "batch fetched"
	case StageCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Event reports progress. Completed never decreases within a run and
// reaches Total when the run succeeds.
type Event struct {
	Partition string
	Stage     Stage
	Completed int
	Total     int
	// Detail is a short human title for the step, e.g. "Syncing 812 CVEs".
	Detail string
}

// Fraction returns Completed/Total in [0, 1].
func (e Event) Fraction() float64 {
	if e.Total <= 0 {
		return 1
	}
	f := float64(e.Completed) / float64(e.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Progress receives events from a single goroutine.
type Progress interface {
	Update(Event)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(Event)

// Update implements Progress.
func (f ProgressFunc) Update(e Event) { f(e) }

type nopProgress struct{}

func (nopProgress) Update(Event) {}
