// Package health exposes liveness and readiness of the bitmap registry over
// HTTP (/live and /ready).
package health

import (
	"errors"
	"fmt"
	"sync"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shared-bitmap/api"
)

// Check names. The metrics handler exports one gauge per name, so they must
// differ.
const (
	LiveCheck  = "bitmap-registry-live"
	ReadyCheck = "bitmap-registry-ready"
)

// ErrShuttingDown fails readiness once teardown started.
var ErrShuttingDown = errors.New("health: registry is shutting down")

// Config is used to tune the checks.
type Config struct {
	// MaxLiveBitmaps fails readiness while more bitmaps are registered.
	// Zero disables the check.
	MaxLiveBitmaps int
	// Registerer, if set, receives one gauge per check.
	Registerer prometheus.Registerer
	Namespace  string
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxLiveBitmaps: 1 << 16,
		Namespace:      "shared_bitmap",
	}
}

// Checker tracks the state the checks report on.
type Checker struct {
	counter api.Counter
	ceiling int

	mu          sync.Mutex
	closing     bool
	shutdownErr error
}

func NewChecker(counter api.Counter, conf *Config) *Checker {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Checker{counter: counter, ceiling: conf.MaxLiveBitmaps}
}

// ShuttingDown marks the start of teardown.
func (c *Checker) ShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
}

// Closed records the result of closing the registry. A non-nil err (a
// leak) fails liveness from then on.
func (c *Checker) Closed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	c.shutdownErr = err
}

// Live fails after the registry was closed with live bitmaps.
func (c *Checker) Live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownErr
}

// Ready fails during teardown or while too many bitmaps are registered.
func (c *Checker) Ready() error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrShuttingDown
	}
	if c.ceiling > 0 {
		if n := c.counter.Count(); n > c.ceiling {
			return fmt.Errorf("health: %d live bitmaps, ceiling is %d", n, c.ceiling)
		}
	}
	return nil
}

// NewHandler returns an http.Handler serving c's checks.
func NewHandler(c *Checker, conf *Config) healthcheck.Handler {
	if conf == nil {
		conf = DefaultConfig()
	}
	var h healthcheck.Handler
	if conf.Registerer != nil {
		h = healthcheck.NewMetricsHandler(conf.Registerer, conf.Namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck(LiveCheck, c.Live)
	h.AddReadinessCheck(ReadyCheck, c.Ready)
	return h
}
