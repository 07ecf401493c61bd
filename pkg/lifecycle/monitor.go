// Package lifecycle notifies the bitmap registry when worker processes exit
// or crash, so that everything they owned is released.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/srediag/shared-bitmap/api"
	"github.com/srediag/shared-bitmap/internal/logging"
	"github.com/srediag/shared-bitmap/pkg/bitmap"
)

var monitorLogger = logging.New("lifecycle", nil)

// ExistsFunc reports whether process pid is alive.
type ExistsFunc func(ctx context.Context, pid int32) (bool, error)

// Config is used to tune the monitor.
type Config struct {
	// PollInterval is the time between liveness sweeps in Run.
	PollInterval time.Duration
	// ProbeRetries bounds retries of a failing liveness probe per sweep.
	ProbeRetries uint64
	// Exists probes a pid. Defaults to gopsutil.
	Exists ExistsFunc
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
		ProbeRetries: 2,
		Exists:       process.PidExistsWithContext,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.PollInterval <= 0 {
		return errors.New("PollInterval must be positive")
	}
	if config.Exists == nil {
		return errors.New("Exists is nil")
	}
	return nil
}

// Monitor watches worker processes and tells its observer when one is gone.
// Exits are reported either by ProcessExited (pushed by whoever reaps the
// worker) or by the polling sweep in Run. Both may fire for the same
// process; observers tolerate that.
type Monitor struct {
	observer api.ProcessObserver
	conf     *Config
	watched  cmap.ConcurrentMap[bitmap.ProcessID, struct{}]
}

// NewMonitor returns a monitor reporting to observer. A nil conf means
// DefaultConfig().
func NewMonitor(observer api.ProcessObserver, conf *Config) (*Monitor, error) {
	if observer == nil {
		return nil, errors.New("lifecycle: observer is nil")
	}
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	return &Monitor{
		observer: observer,
		conf:     conf,
		watched:  cmap.NewStringer[bitmap.ProcessID, struct{}](),
	}, nil
}

// Watch starts polling pid.
func (m *Monitor) Watch(pid bitmap.ProcessID) {
	m.watched.Set(pid, struct{}{})
}

// Unwatch stops polling pid without reporting it.
func (m *Monitor) Unwatch(pid bitmap.ProcessID) {
	m.watched.Remove(pid)
}

// Watching reports whether pid is polled.
func (m *Monitor) Watching(pid bitmap.ProcessID) bool {
	return m.watched.Has(pid)
}

// Watched returns the number of polled processes.
func (m *Monitor) Watched() int {
	return m.watched.Count()
}

// ProcessExited reports pid as gone and returns how many bitmaps it held.
func (m *Monitor) ProcessExited(pid bitmap.ProcessID) int {
	m.watched.Remove(pid)
	n := m.observer.RemoveByProcess(pid)
	monitorLogger.Infof("process %s exited, released %d bitmaps", pid, n)
	return n
}

// Poll probes every watched process once and reports the dead ones. A probe
// that keeps failing leaves its process watched.
func (m *Monitor) Poll(ctx context.Context) int {
	exited := 0
	for _, pid := range m.watched.Keys() {
		if ctx.Err() != nil {
			break
		}
		alive, err := m.probe(ctx, pid)
		if err != nil {
			monitorLogger.Warnf("probing process %s: %v", pid, err)
			continue
		}
		if !alive {
			m.ProcessExited(pid)
			exited++
		}
	}
	return exited
}

func (m *Monitor) probe(ctx context.Context, pid bitmap.ProcessID) (bool, error) {
	var alive bool
	op := func() error {
		var err error
		alive, err = m.conf.Exists(ctx, int32(pid))
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.conf.PollInterval/10), m.conf.ProbeRetries), ctx)
	notify := func(err error, d time.Duration) {
		monitorLogger.Debugf("probe of process %s failed, retrying in %s: %v", pid, d, err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return true, err
	}
	return alive, nil
}

// Run polls until ctx is done and returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(m.conf.PollInterval), ctx))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticker.C:
			if !ok {
				return ctx.Err()
			}
			m.Poll(ctx)
		}
	}
}
