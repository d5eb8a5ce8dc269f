// CLAUDE:SUMMARY The render operation: counter/threshold restart, bounded semaphore, per-attempt timeout, restart-before-retry.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Request describes one raster conversion.
type Request struct {
	// Content is the SVG (or other Chrome-renderable XML) source.
	Content []byte

	// Width and Height are the exact viewport dimensions in pixels.
	Width  int
	Height int

	// ScaleFactor overrides the manager default when > 0.
	ScaleFactor float64
}

// ConvertToPNG renders the request content to a PNG screenshot using the
// persistent Chrome instance. On timeout or render failure the backend is
// restarted before the next attempt: after a timeout the process is in an
// unknown state and must not be reused.
func (m *Manager) ConvertToPNG(ctx context.Context, req Request) ([]byte, error) {
	if !m.IsRunning() {
		return nil, ErrNotStarted
	}

	if err := m.countAndMaybeRestart(); err != nil {
		return nil, err
	}

	scale := req.ScaleFactor
	if scale <= 0 {
		scale = m.cfg.ScaleFactor
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		png, err := m.renderOnce(ctx, req, scale)
		if err == nil {
			m.metrics.recordSuccess(time.Since(start))
			return png, nil
		}
		lastErr = err
		m.cfg.Logger.Warn("browser: conversion attempt failed",
			"attempt", attempt, "max", m.cfg.MaxRetries, "error", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < m.cfg.MaxRetries {
			if rerr := m.Restart(); rerr != nil {
				m.cfg.Logger.Error("browser: restart after failure", "error", rerr)
				m.metrics.recordFailure()
				return nil, fmt.Errorf("%w: restart failed: %w", ErrConversionFailed, rerr)
			}
		}
	}

	m.metrics.recordFailure()
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConversionFailed, m.cfg.MaxRetries, lastErr)
}

// countAndMaybeRestart increments the conversion counter and, when the
// configured threshold rolls over, performs a synchronous restart. The
// counter lock is never held across the restart so unrelated conversions
// keep counting.
func (m *Manager) countAndMaybeRestart() error {
	threshold := m.cfg.RestartAfter
	if threshold <= 0 {
		m.counterMu.Lock()
		m.conversions++
		m.counterMu.Unlock()
		return nil
	}

	restart := false
	m.counterMu.Lock()
	m.conversions++
	if m.conversions >= threshold {
		// Reset inside the lock so only one caller triggers the restart.
		m.conversions = 0
		restart = true
	}
	m.counterMu.Unlock()

	if restart {
		m.cfg.Logger.Info("browser: conversion threshold reached, restarting",
			"threshold", threshold)
		if err := m.Restart(); err != nil {
			return err
		}
	}
	return nil
}

// renderOnce performs a single attempt under the concurrency semaphore
// and the per-attempt timeout.
func (m *Manager) renderOnce(ctx context.Context, req Request, scale float64) (out []byte, err error) {
	m.metrics.enterQueue()
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.metrics.leaveQueue()
		return nil, ctx.Err()
	}
	m.metrics.startActive()
	defer func() {
		<-m.sem
		m.metrics.stopActive()
	}()

	b := m.currentBrowser()
	if b == nil {
		return nil, ErrNotStarted
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConvertTimeout)
	defer cancel()

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	// Tab teardown is unconditional so a failed render never leaks a tab
	// slot on the Chrome side.
	defer func() {
		if cerr := page.Close(); cerr != nil {
			m.cfg.Logger.Warn("browser: close page", "error", cerr)
		}
	}()

	page = page.Context(attemptCtx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: scale,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	// Transparent background so the screenshot keeps the SVG's alpha.
	// A nil alpha means opaque, so the zero must be an explicit pointer.
	alpha := 0.0
	if err := (proto.EmulationSetDefaultBackgroundColorOverride{
		Color: &proto.DOMRGBA{R: 0, G: 0, B: 0, A: &alpha},
	}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: background override: %w", err)
	}

	if err := page.SetDocumentContent(wrapperPage(req.Content, req.Width, req.Height)); err != nil {
		return nil, fmt.Errorf("browser: set content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load: %w", err)
	}

	png, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatPng,
		FromSurface: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return png, nil
}

// wrapperPage embeds the content as a data URI image centered in a page
// sized exactly to the viewport. A data URI avoids any network fetch, so
// domcontentloaded is sufficient to render.
func wrapperPage(content []byte, width, height int) string {
	b64 := base64.StdEncoding.EncodeToString(content)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
html, body { width: %dpx; height: %dpx; overflow: hidden; }
body { background: transparent; display: flex; align-items: center; justify-content: center; }
img { display: block; max-width: 100%%; max-height: 100%%; }
</style>
</head>
<body><img src="data:image/svg+xml;base64,%s" alt=""></body>
</html>`, width, height, b64)
}
