// CLAUDE:SUMMARY Persistent headless Chrome lifecycle for raster conversion: start/stop/restart, health monitor, crash recovery.
// Package browser manages a persistent headless Chrome process used to
// rasterize vector content. One Manager per worker process: start it once
// at startup, render through it concurrently, stop it at shutdown.
//
// Three synchronization domains are kept deliberately separate so they
// never serialize each other: the state lock (start/stop/restart), the
// conversion counter lock (restart-threshold accounting), and the bounded
// render semaphore (concurrent tab cap).
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// State is the backend process lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotStarted is returned by render calls before Start.
var ErrNotStarted = errors.New("browser: not started")

// ErrConversionFailed is returned when all retry attempts are exhausted.
var ErrConversionFailed = errors.New("browser: conversion failed")

// Config configures the Manager. Out-of-range numeric values are clamped
// to their documented range with a logged warning; bad configuration
// degrades to defaults instead of failing construction.
type Config struct {
	// Bin is the Chrome executable path. Empty = rod launcher default.
	Bin string

	// ScaleFactor is the device scale factor for rendering. Range [0.1, 10],
	// default 1.0.
	ScaleFactor float64

	// MaxConcurrent caps simultaneous render tabs. Range [1, 100], default 10.
	MaxConcurrent int

	// RestartAfter restarts Chrome after N conversions to bound memory
	// growth. Range [0, 10000], default 0 (disabled).
	RestartAfter int

	// MaxRetries is the attempt count per conversion. Range [1, 10],
	// default 2.
	MaxRetries int

	// ConvertTimeout bounds a single render attempt. Range [5s, 300s],
	// default 30s.
	ConvertTimeout time.Duration

	// HealthInterval is the background health probe period. Range
	// [10s, 300s], default 30s.
	HealthInterval time.Duration

	// DisableHealthMonitor turns off the background probe loop.
	DisableHealthMonitor bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	clampF := func(name string, v *float64, min, max, def float64) {
		if *v == 0 {
			*v = def
			return
		}
		if *v < min || *v > max {
			c.Logger.Warn("browser: config out of range, using default",
				"param", name, "value", *v, "min", min, "max", max, "default", def)
			*v = def
		}
	}
	clampI := func(name string, v *int, min, max, def int) {
		if *v == 0 && def != 0 {
			*v = def
			return
		}
		if *v < min || *v > max {
			c.Logger.Warn("browser: config out of range, using default",
				"param", name, "value", *v, "min", min, "max", max, "default", def)
			*v = def
		}
	}
	clampD := func(name string, v *time.Duration, min, max, def time.Duration) {
		if *v == 0 {
			*v = def
			return
		}
		if *v < min || *v > max {
			c.Logger.Warn("browser: config out of range, using default",
				"param", name, "value", *v, "min", min, "max", max, "default", def)
			*v = def
		}
	}
	clampF("scale_factor", &c.ScaleFactor, 0.1, 10, 1.0)
	clampI("max_concurrent", &c.MaxConcurrent, 1, 100, 10)
	clampI("restart_after", &c.RestartAfter, 0, 10000, 0)
	clampI("max_retries", &c.MaxRetries, 1, 10, 2)
	clampD("convert_timeout", &c.ConvertTimeout, 5*time.Second, 300*time.Second, 30*time.Second)
	clampD("health_interval", &c.HealthInterval, 10*time.Second, 300*time.Second, 30*time.Second)
}

// Manager owns the Chrome process and its render pipeline.
type Manager struct {
	cfg Config

	mu      sync.Mutex // guards browser, lnch and state transitions
	browser *rod.Browser
	lnch    *launcher.Launcher
	state   atomic.Int32 // State; reads are lock-free best-effort

	counterMu   sync.Mutex // guards conversions only, never held with mu
	conversions int

	sem chan struct{} // bounded render slots

	metrics Metrics

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NewManager creates a Manager. Call Start before rendering.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches Chrome and the health monitor. Idempotent: a running
// manager logs and returns nil.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	if State(m.state.Load()) == StateRunning {
		m.cfg.Logger.Warn("browser: already started")
		return nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-software-rasterizer").
		Set("disable-dev-shm-usage").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("hide-scrollbars")
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}

	m.browser = b
	m.lnch = l
	m.state.Store(int32(StateRunning))
	m.metrics.resetStart()
	m.cfg.Logger.Info("browser: started", "max_concurrent", m.cfg.MaxConcurrent,
		"scale_factor", m.cfg.ScaleFactor)

	if !m.cfg.DisableHealthMonitor && m.monitorStop == nil {
		m.monitorStop = make(chan struct{})
		m.monitorDone = make(chan struct{})
		go m.monitorLoop(m.monitorStop, m.monitorDone)
	}
	return nil
}

// Stop shuts down Chrome. Idempotent; cleanup is unconditional, so the
// manager always ends up stopped even when close calls fail.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(StateStopped)
}

func (m *Manager) stopLocked(final State) error {
	if State(m.state.Load()) == StateNotStarted {
		return nil
	}

	// Signal the monitor without waiting: a recovery restart is issued
	// from inside the monitor loop itself, and the old goroutine exits on
	// its own once its stop channel is closed.
	if m.monitorStop != nil {
		close(m.monitorStop)
		m.monitorStop = nil
		m.monitorDone = nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Error("browser: close", "error", err)
		}
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
	}
	m.browser = nil
	m.lnch = nil
	m.state.Store(int32(final))
	m.cfg.Logger.Info("browser: stopped")
	return nil
}

// Restart stops and relaunches Chrome, resetting the conversion counter.
// Used for recovery after timeouts, crashes and threshold rollover.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.Logger.Info("browser: restarting")
	m.state.Store(int32(StateRestarting))
	if err := m.stopLocked(StateRestarting); err != nil {
		m.cfg.Logger.Warn("browser: stop during restart", "error", err)
	}

	// Transition back through NotStarted so startLocked's idempotence
	// check does not short-circuit.
	m.state.Store(int32(StateNotStarted))
	if err := m.startLocked(); err != nil {
		m.state.Store(int32(StateStopped))
		return fmt.Errorf("browser: restart: %w", err)
	}

	m.counterMu.Lock()
	m.conversions = 0
	m.counterMu.Unlock()

	m.metrics.recordRestart()
	m.cfg.Logger.Info("browser: restarted")
	return nil
}

// IsRunning is a lock-free liveness check. A render racing a concurrent
// restart may observe stale state; the retry path tolerates that.
func (m *Manager) IsRunning() bool {
	return State(m.state.Load()) == StateRunning
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// HealthCheck verifies the live connection to Chrome, not just that a
// handle exists.
func (m *Manager) HealthCheck() bool {
	healthy := false
	if m.IsRunning() {
		if b := m.currentBrowser(); b != nil {
			_, err := b.Version()
			healthy = err == nil
		}
	}
	m.metrics.recordHealthCheck(healthy)
	return healthy
}

// Version returns the Chrome product version, e.g. "131.0.6778.69".
func (m *Manager) Version() (string, error) {
	b := m.currentBrowser()
	if b == nil {
		return "", ErrNotStarted
	}
	v, err := b.Version()
	if err != nil {
		return "", fmt.Errorf("browser: version: %w", err)
	}
	product := v.Product
	if i := strings.IndexByte(product, '/'); i >= 0 {
		product = product[i+1:]
	}
	return product, nil
}

// Stats returns a snapshot of the backend metrics.
func (m *Manager) Stats() Snapshot {
	return m.metrics.snapshot()
}

func (m *Manager) currentBrowser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// monitorLoop probes Chrome periodically and restarts it on a failed
// probe. This is the automatic-recovery path for silent crashes.
func (m *Manager) monitorLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if State(m.state.Load()) != StateRunning {
				continue
			}
			if m.HealthCheck() {
				continue
			}
			m.cfg.Logger.Warn("browser: health check failed, restarting")
			if err := m.Restart(); err != nil {
				m.cfg.Logger.Error("browser: recovery restart failed", "error", err)
			}
		}
	}
}
