// Package host assembles the bitmap registry with the components that feed
// it: the worker dispatcher, the process monitor and the health checks. The
// host process creates one Host at startup and closes it at teardown.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/srediag/shared-bitmap/internal/logging"
	"github.com/srediag/shared-bitmap/pkg/bitmap"
	"github.com/srediag/shared-bitmap/pkg/health"
	"github.com/srediag/shared-bitmap/pkg/lifecycle"
	"github.com/srediag/shared-bitmap/pkg/shm"
	"github.com/srediag/shared-bitmap/pkg/transport"
)

var hostLogger = logging.New("host", nil)

// Config groups the component configurations.
type Config struct {
	Bitmap    *bitmap.Config
	Lifecycle *lifecycle.Config
	Transport *transport.Config
	Health    *health.Config
}

// DefaultConfig returns defaults with one allocator shared by the registry
// and the dispatcher.
func DefaultConfig() *Config {
	conf := &Config{
		Bitmap:    bitmap.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Health:    health.DefaultConfig(),
	}
	conf.Transport.Allocator = conf.Bitmap.Allocator
	return conf
}

// WithAllocator sets a for both the registry and the dispatcher.
func (c *Config) WithAllocator(a shm.Allocator) *Config {
	c.Bitmap.Allocator = a
	c.Transport.Allocator = a
	return c
}

// Host owns the registry and everything that drives it.
type Host struct {
	Registry   *bitmap.Registry
	Monitor    *lifecycle.Monitor
	Dispatcher *transport.Dispatcher
	Health     *health.Checker

	handler http.Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	closed  bool
}

// New builds a host. Nothing runs until Start.
func New(conf *Config) (*Host, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if conf.Bitmap == nil || conf.Lifecycle == nil || conf.Transport == nil || conf.Health == nil {
		return nil, errors.New("host: incomplete config")
	}
	reg, err := bitmap.New(conf.Bitmap)
	if err != nil {
		return nil, fmt.Errorf("host: registry: %w", err)
	}
	h := &Host{Registry: reg}
	if h.Dispatcher, err = transport.NewDispatcher(reg, conf.Transport); err != nil {
		return nil, fmt.Errorf("host: dispatcher: %w", err)
	}
	if h.Monitor, err = lifecycle.NewMonitor(h, conf.Lifecycle); err != nil {
		h.Dispatcher.Close()
		return nil, fmt.Errorf("host: monitor: %w", err)
	}
	h.Health = health.NewChecker(reg, conf.Health)
	h.handler = health.NewHandler(h.Health, conf.Health)
	return h, nil
}

// Start runs the process monitor until Close or ctx is done.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil || h.closed {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.stopped = make(chan struct{})
	go func() {
		defer close(h.stopped)
		if err := h.Monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			hostLogger.Warnf("process monitor stopped: %v", err)
		}
	}()
}

// Connect attaches worker pid and starts watching it.
func (h *Host) Connect(pid bitmap.ProcessID) (*transport.Channel, error) {
	ch, err := h.Dispatcher.Attach(pid)
	if err != nil {
		return nil, err
	}
	h.Monitor.Watch(pid)
	return ch, nil
}

// Disconnect reports worker pid as gone, whether it exited or crashed.
func (h *Host) Disconnect(pid bitmap.ProcessID) int {
	return h.Monitor.ProcessExited(pid)
}

// RemoveByProcess detaches pid's channel and removes its bitmaps. The
// monitor calls it for every exit it sees.
func (h *Host) RemoveByProcess(pid bitmap.ProcessID) int {
	h.Dispatcher.Detach(pid)
	return h.Registry.RemoveByProcess(pid)
}

// HealthHandler serves /live and /ready.
func (h *Host) HealthHandler() http.Handler {
	return h.handler
}

// Close stops the monitor, drains every worker channel and closes the
// registry. Bitmaps still registered afterwards are reported as a leak.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	cancel, stopped := h.cancel, h.stopped
	h.mu.Unlock()

	h.Health.ShuttingDown()
	if cancel != nil {
		cancel()
		<-stopped
	}
	h.Dispatcher.Close()
	err := h.Registry.Close()
	h.Health.Closed(err)
	return err
}
