// CLAUDE:SUMMARY VSDX to PNG conversion through a one-shot LibreOffice subprocess, availability probed once per process.
// Package vsdx converts Visio VSDX diagrams to PNG by shelling out to
// LibreOffice. Availability is probed once at construction and cached
// for the process lifetime: deployments without LibreOffice skip diagram
// conversion entirely instead of probing per request.
package vsdx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrCorrupted is returned when a payload is not a ZIP archive. VSDX is
// ZIP-based; a payload without the local-file-header magic is
// structurally broken, not merely unconvertible.
var ErrCorrupted = errors.New("vsdx: payload is not a zip archive")

// ErrUnavailable is returned by ToPNG when no converter binary exists.
var ErrUnavailable = errors.New("vsdx: libreoffice not available")

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Config configures the converter.
type Config struct {
	// Bin is the LibreOffice executable. Default: first of
	// "libreoffice", "soffice" found on PATH.
	Bin string

	// Timeout bounds one conversion run. Default 60s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Converter runs VSDX conversions. Zero value is not usable; construct
// with New.
type Converter struct {
	cfg       Config
	bin       string
	available bool
}

// New creates a Converter and probes for LibreOffice once. A missing or
// non-responsive binary is not an error: Available reports false and
// conversions are skipped upstream.
func New(cfg Config) *Converter {
	cfg.defaults()
	c := &Converter{cfg: cfg}
	c.bin, c.available = probe(cfg)
	if c.available {
		cfg.Logger.Info("vsdx: converter available", "bin", c.bin)
	} else {
		cfg.Logger.Warn("vsdx: libreoffice not found, diagram conversion disabled")
	}
	return c
}

func probe(cfg Config) (string, bool) {
	candidates := []string{cfg.Bin}
	if cfg.Bin == "" {
		candidates = []string{"libreoffice", "soffice"}
	}
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = exec.CommandContext(ctx, path, "--version").Run()
		cancel()
		if err != nil {
			cfg.Logger.Warn("vsdx: probe failed", "bin", path, "error", err)
			continue
		}
		return path, true
	}
	return "", false
}

// Available reports whether a working converter was found at startup.
func (c *Converter) Available() bool {
	return c.available
}

// ToPNG converts one VSDX payload. The payload is validated before any
// subprocess runs, and each conversion gets its own temporary directory
// that is removed unconditionally.
func (c *Converter) ToPNG(ctx context.Context, data []byte) ([]byte, error) {
	if !c.available {
		return nil, ErrUnavailable
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return nil, ErrCorrupted
	}

	dir, err := os.MkdirTemp("", "vsdx-*")
	if err != nil {
		return nil, fmt.Errorf("vsdx: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "diagram.vsdx")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("vsdx: write input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.bin,
		"--headless", "--invisible", "--convert-to", "png", "--outdir", dir, in)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("vsdx: convert: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	out := filepath.Join(dir, "diagram.png")
	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("vsdx: converter produced no output: %w", err)
	}
	c.cfg.Logger.Debug("vsdx: converted", "bytes_in", len(data),
		"bytes_out", len(png), "duration", time.Since(start))
	return png, nil
}
