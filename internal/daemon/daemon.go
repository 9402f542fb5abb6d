// Package daemon keeps the local cache current without user interaction.
//
// The daemon:
//  1. Runs an initial sync on start
//  2. Re-runs on a cron schedule
//  3. Re-runs after partition metadata changes in a mirror directory
//  4. Optionally serves Prometheus metrics
//
// Sync runs never overlap. A failed run is logged and the daemon keeps
// going; the next trigger retries naturally.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"github.com/mschirtzinger/nvd-cache/internal/metrics"
	"github.com/mschirtzinger/nvd-cache/internal/sync"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a standard cron spec or descriptor such as "@hourly".
	Schedule string

	// Debounce is how long mirror changes must settle before a run starts.
	// Mirror updates touch many files in quick succession.
	Debounce time.Duration

	// MirrorDir is watched for *.meta changes when non-empty.
	MirrorDir string

	// MetricsAddr serves /metrics when non-empty, e.g. ":9464".
	MetricsAddr string

	// Logger for daemon activity.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schedule: "@hourly",
		Debounce: 2 * time.Second,
	}
}

// Daemon schedules sync runs.
type Daemon struct {
	syncer sync.Syncer
	config Config
	log    *zap.Logger

	schedule cron.Schedule
	cron     *cron.Cron
	watcher  *MirrorWatcher
	server   *http.Server
	listener net.Listener

	trigger   chan string
	pending   map[string]time.Time // partition -> last event
	pendingMu stdsync.Mutex
	runMu     stdsync.Mutex
	runs      atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       stdsync.WaitGroup
	stopOnce stdsync.Once
}

// New creates a daemon driving s. The schedule is validated here so that a
// bad spec fails before anything starts.
func New(s sync.Syncer, config Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	def := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = def.Schedule
	}
	if config.Debounce <= 0 {
		config.Debounce = def.Debounce
	}
	if config.Logger == nil {
		config.Logger = logging.WithModule("daemon")
	}

	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}

	d := &Daemon{
		syncer:   s,
		config:   config,
		log:      config.Logger,
		schedule: schedule,
		trigger:  make(chan string, 1),
		pending:  make(map[string]time.Time),
	}

	if config.MirrorDir != "" {
		d.watcher, err = NewMirrorWatcher()
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.ctx = ctx
	d.cancel = cancel

	d.cron = cron.New(
		cron.WithLogger(cronLogger{d.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{d.log.Sugar()})),
	)
	return d, nil
}

// Start runs the initial sync and then serves triggers until ctx is
// cancelled or Stop is called. Only setup failures are returned.
func (d *Daemon) Start(ctx context.Context) error {
	release := context.AfterFunc(ctx, d.cancel)
	defer release()

	d.log.Info("starting daemon",
		zap.String("schedule", d.config.Schedule),
		zap.String("mirror_dir", d.config.MirrorDir))

	if d.config.MetricsAddr != "" {
		if err := d.serveMetrics(); err != nil {
			_ = d.Stop()
			return err
		}
	}

	if _, err := d.RunOnce(d.ctx, "startup"); err != nil && d.ctx.Err() == nil {
		d.log.Warn("initial sync failed; waiting for next trigger", zap.Error(err))
	}
	if d.ctx.Err() != nil {
		return d.Stop()
	}

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.MirrorDir); err != nil {
			_ = d.Stop()
			return err
		}
		d.log.Info("watching mirror", zap.String("dir", d.config.MirrorDir))

		d.wg.Add(2)
		go d.watchMirror()
		go d.processPending()
	}

	d.cron.Schedule(d.schedule, cron.FuncJob(func() { d.request("schedule") }))
	d.cron.Start()

	d.wg.Add(1)
	go d.runLoop()

	<-d.ctx.Done()
	return d.Stop()
}

// Stop shuts the daemon down and waits for a running sync to finish its
// current partition. It is idempotent.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.log.Info("stopping daemon")
		d.cancel()

		<-d.cron.Stop().Done()

		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.log.Warn("error closing watcher", zap.Error(werr))
			}
		}

		if d.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := d.server.Shutdown(shutdownCtx); serr != nil {
				err = fmt.Errorf("shutdown metrics server: %w", serr)
			}
		}

		d.wg.Wait()
		d.log.Info("daemon stopped")
	})
	return err
}

// RunOnce performs one sync, waiting for any run already in progress.
func (d *Daemon) RunOnce(ctx context.Context, reason string) (*sync.Result, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.log.Info("sync triggered", zap.String("reason", reason))
	res, err := d.syncer.Run(ctx)
	d.runs.Add(1)
	if err != nil {
		d.log.Error("sync run failed", zap.String("reason", reason), zap.Error(err))
		return res, err
	}
	d.log.Info("sync run finished",
		zap.String("reason", reason),
		zap.String("run_id", res.RunID),
		zap.Int("updated", res.Updated()),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// Runs returns how many sync runs have completed, failed ones included.
func (d *Daemon) Runs() int64 {
	return d.runs.Load()
}

// MetricsAddr returns the bound metrics address, empty when not serving.
func (d *Daemon) MetricsAddr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// request queues a run. Requests arriving while one is queued are merged.
func (d *Daemon) request(reason string) {
	select {
	case d.trigger <- reason:
	default:
		d.log.Debug("sync already queued", zap.String("reason", reason))
	}
}

func (d *Daemon) runLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case reason := <-d.trigger:
			_, _ = d.RunOnce(d.ctx, reason)
		}
	}
}

// watchMirror records metadata changes for debouncing.
func (d *Daemon) watchMirror() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.log.Debug("mirror event",
				zap.String("op", event.Op.String()),
				zap.String("partition", event.Partition))
			if event.Op == OpDelete {
				continue
			}

			d.pendingMu.Lock()
			d.pending[event.Partition] = time.Now()
			d.pendingMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// processPending requests a run once every pending change has settled.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(max(d.config.Debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if partitions := d.takeSettled(time.Now()); len(partitions) > 0 {
				d.log.Info("mirror changed", zap.Strings("partitions", partitions))
				d.request("mirror change")
			}
		}
	}
}

// takeSettled drains the pending set when its newest change is older than
// the debounce interval.
func (d *Daemon) takeSettled(now time.Time) []string {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if len(d.pending) == 0 {
		return nil
	}
	for _, at := range d.pending {
		if now.Sub(at) < d.config.Debounce {
			return nil
		}
	}

	partitions := make([]string, 0, len(d.pending))
	for name := range d.pending {
		partitions = append(partitions, name)
	}
	clear(d.pending)
	return partitions
}

func (d *Daemon) serveMetrics() error {
	ln, err := net.Listen("tcp", d.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.config.MetricsAddr, err)
	}
	d.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	d.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// cronLogger routes robfig/cron logs into zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
