// CLAUDE:SUMMARY Entry point for the printpipe HTTP service: chi router, Basic Auth, Chrome pool, optional MCP stdio.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html/charset"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/printpipe/attach"
	"github.com/hazyhaar/printpipe/browser"
	"github.com/hazyhaar/printpipe/dbopen"
	"github.com/hazyhaar/printpipe/engine"
	"github.com/hazyhaar/printpipe/oplog"
	"github.com/hazyhaar/printpipe/pdfpipe"
	"github.com/hazyhaar/printpipe/shield"
	"github.com/hazyhaar/printpipe/svgproc"
	"github.com/hazyhaar/printpipe/vsdx"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := loadConfig(env("PRINTPIPE_CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Conversion log DB, also holds rate limit rules.
	db, err := dbopen.Open(cfg.Oplog.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(oplog.Schema),
		dbopen.WithSchema(shield.RateLimitSchema))
	if err != nil {
		slog.Error("oplog db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	events := oplog.New(db, logger)
	go retentionLoop(ctx, events, cfg.Oplog.RetentionDays)

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := pdfpipe.NewMetrics(reg)

	// Screenshot Chrome pool (SVG rasterization).
	mgr := browser.NewManager(browser.Config{
		Bin:            cfg.Browser.Bin,
		ScaleFactor:    cfg.Browser.ScaleFactor,
		MaxConcurrent:  cfg.Browser.MaxConcurrent,
		RestartAfter:   cfg.Browser.RestartAfter,
		MaxRetries:     cfg.Browser.MaxRetries,
		ConvertTimeout: time.Duration(cfg.Browser.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	if err := mgr.Start(); err != nil {
		slog.Error("browser start", "error", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	// Visio diagrams via LibreOffice, when installed.
	diagrams := vsdx.New(vsdx.Config{
		Bin:     cfg.Vsdx.Bin,
		Timeout: time.Duration(cfg.Vsdx.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if !diagrams.Available() {
		slog.Warn("libreoffice not found, vsdx diagrams will be skipped")
	}

	images := svgproc.New(svgproc.Config{
		HeightAdjustPx: cfg.Images.HeightAdjustPx,
		ScaleFactor:    cfg.Browser.ScaleFactor,
		Strict:         cfg.Images.Strict,
		Logger:         logger,
	}, mgr, diagrams)

	// Print engine (separate Chrome, print-to-PDF path).
	eng := engine.New(engine.Config{
		Bin:          cfg.Browser.Bin,
		Timeout:      time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		PaperWidth:   cfg.Engine.PaperWidth,
		PaperHeight:  cfg.Engine.PaperHeight,
		MarginInches: cfg.Engine.MarginInches,
		Logger:       logger,
	})
	defer eng.Close()

	svc := pdfpipe.New(pdfpipe.Config{
		WorkDir:      cfg.DataDir,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger,
	}, eng, images, metrics, events)

	// MCP over stdio replaces the HTTP surface entirely.
	if cfg.MCP.Transport == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "printpipe", Version: version}, nil)
		svc.RegisterMCP(srv)
		slog.Info("mcp stdio serving")
		if err := srv.Run(ctx, &mcp.IOTransport{Reader: os.Stdin, Writer: os.Stdout}); err != nil && ctx.Err() == nil {
			slog.Error("mcp", "error", err)
			os.Exit(1)
		}
		return
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(svc.MaxBodyBytes()) {
		r.Use(mw)
	}
	rl := shield.NewRateLimiter(db, "/health", "/metrics")
	rl.StartReloader(ctx.Done())
	r.Use(rl.Middleware)

	r.Get("/health", healthHandler(mgr))

	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		chrome, err := mgr.Version()
		if err != nil {
			chrome = ""
		}
		writeJSON(w, 200, map[string]string{
			"version": version,
			"go":      runtime.Version(),
			"chrome":  chrome,
		})
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Conversion endpoints, Basic Auth when configured.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(cfg.Auth.User, cfg.Auth.PasswordHash))

		r.Post("/convert/html", func(w http.ResponseWriter, r *http.Request) {
			// charset.NewReader honors the Content-Type charset and
			// falls back to sniffing, so non-UTF-8 documents arrive
			// decoded.
			cr, err := charset.NewReader(r.Body, r.Header.Get("Content-Type"))
			if err != nil {
				writeError(w, 400, err)
				return
			}
			body, err := io.ReadAll(cr)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			req := pdfpipe.Request{
				HTML:      string(body),
				BaseURL:   r.URL.Query().Get("base_url"),
				Scale:     queryFloat(r, "scale"),
				MediaType: r.URL.Query().Get("media"),
			}
			shield.GetLogger(r.Context()).Debug("convert",
				"base_url", sanitizeURL(req.BaseURL), "bytes", len(body))
			res, err := svc.Convert(r.Context(), req)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writePDF(w, r, res.PDF)
		})

		r.Post("/convert/html-with-attachments", func(w http.ResponseWriter, r *http.Request) {
			req, err := parseMultipart(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			res, err := svc.Convert(r.Context(), *req)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writePDF(w, r, res.PDF)
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// parseMultipart builds a conversion request from a multipart form: the
// "html" part is the document, every other file part is an attachment.
func parseMultipart(r *http.Request) (*pdfpipe.Request, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	req := &pdfpipe.Request{
		BaseURL:   r.URL.Query().Get("base_url"),
		Scale:     queryFloat(r, "scale"),
		MediaType: r.URL.Query().Get("media"),
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if part.FormName() == "html" && part.FileName() == "" {
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, err
			}
			req.HTML = string(data)
			continue
		}

		if part.FileName() != "" {
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, err
			}
			req.Attachments = append(req.Attachments, attach.Upload{
				Name:   part.FileName(),
				Reader: strings.NewReader(string(data)),
			})
			continue
		}
		part.Close()
	}

	if req.HTML == "" {
		return nil, errors.New("missing html part")
	}
	return req, nil
}

// basicAuth enforces HTTP Basic Auth against a bcrypt hash. An empty
// hash disables authentication (warned once at startup).
func basicAuth(user, passwordHash string) func(http.Handler) http.Handler {
	if passwordHash == "" {
		slog.Warn("auth disabled: no password hash configured")
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="printpipe"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retentionLoop prunes old conversion log rows once a day.
// healthHandler probes the live Chrome connection: a wedged process
// still holds a handle and would pass a plain state check.
func healthHandler(mgr *browser.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := mgr.Stats()
		status := "ok"
		code := 200
		if !mgr.HealthCheck() {
			status = "degraded"
			code = 503
		}
		writeJSON(w, code, map[string]any{
			"status":      status,
			"browser":     mgr.State().String(),
			"conversions": stats.Conversions,
			"failed":      stats.Failed,
			"restarts":    stats.Restarts,
		})
	}
}

func retentionLoop(ctx context.Context, events *oplog.Logger, days int) {
	if days <= 0 {
		return
	}
	tick := time.NewTicker(24 * time.Hour)
	defer tick.Stop()
	for {
		if n, err := events.Cleanup(ctx, days); err != nil {
			slog.Warn("oplog cleanup", "error", err)
		} else if n > 0 {
			slog.Info("oplog cleanup", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writePDF(w http.ResponseWriter, r *http.Request, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	if name := r.URL.Query().Get("filename"); name != "" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	}
	w.WriteHeader(200)
	w.Write(pdf)
}

func queryFloat(r *http.Request, key string) float64 {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// sanitizeURL strips credentials and query strings before a URL is
// logged.
func sanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
