// CLAUDE:SUMMARY YAML configuration with environment overrides for the printpipe server.
package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// serverConfig is the full YAML configuration. Every value has a
// sensible default; an absent config file yields a working server.
type serverConfig struct {
	Port         string `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	DataDir      string `yaml:"data_dir"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`

	Auth struct {
		User         string `yaml:"user"`
		PasswordHash string `yaml:"password_hash"` // bcrypt
	} `yaml:"auth"`

	Browser struct {
		Bin            string  `yaml:"bin"`
		ScaleFactor    float64 `yaml:"scale_factor"`
		MaxConcurrent  int     `yaml:"max_concurrent"`
		RestartAfter   int     `yaml:"restart_after"`
		MaxRetries     int     `yaml:"max_retries"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"browser"`

	Engine struct {
		PaperWidth     float64 `yaml:"paper_width"`
		PaperHeight    float64 `yaml:"paper_height"`
		MarginInches   float64 `yaml:"margin_inches"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"engine"`

	Images struct {
		HeightAdjustPx int  `yaml:"height_adjust_px"`
		Strict         bool `yaml:"strict"`
	} `yaml:"images"`

	Vsdx struct {
		Bin            string `yaml:"bin"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"vsdx"`

	Oplog struct {
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"oplog"`

	MCP struct {
		Transport string `yaml:"transport"` // "" or "stdio"
	} `yaml:"mcp"`
}

// loadConfig reads the YAML file at path (optional) and applies
// environment overrides on top.
func loadConfig(path string) (*serverConfig, error) {
	cfg := &serverConfig{}
	cfg.Port = "8085"
	cfg.LogLevel = "info"
	cfg.DataDir = "data"
	cfg.Oplog.Path = "db/oplog.db"
	cfg.Oplog.RetentionDays = 30

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Environment wins over the file.
	envString(&cfg.Port, "PORT")
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envString(&cfg.DataDir, "DATA_DIR")
	envString(&cfg.Auth.User, "AUTH_USER")
	envString(&cfg.Auth.PasswordHash, "AUTH_PASSWORD_HASH")
	envString(&cfg.Browser.Bin, "CHROME_BIN")
	envString(&cfg.Vsdx.Bin, "LIBREOFFICE_BIN")
	envString(&cfg.Oplog.Path, "OPLOG_DB")
	envString(&cfg.MCP.Transport, "MCP_TRANSPORT")
	envInt64(&cfg.MaxBodyBytes, "MAX_BODY_BYTES")

	return cfg, nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
