package engine

import (
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", c.Timeout)
	}
	if c.PaperWidth != 8.27 || c.PaperHeight != 11.69 {
		t.Errorf("paper = %vx%v, want A4", c.PaperWidth, c.PaperHeight)
	}
	if c.MarginInches != 0.4 {
		t.Errorf("MarginInches = %v, want 0.4", c.MarginInches)
	}
}

func TestInjectBase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"into head",
			`<html><head><title>x</title></head><body></body></html>`,
			`<html><head><base href="https://example.com/docs/"><title>x</title></head><body></body></html>`,
		},
		{
			"head with attributes",
			`<html><head lang="en"></head></html>`,
			`<html><head lang="en"><base href="https://example.com/docs/"></head></html>`,
		},
		{
			"no head",
			`<p>fragment</p>`,
			`<base href="https://example.com/docs/"><p>fragment</p>`,
		},
		{
			"header is not head",
			`<header>nav</header><p>content</p>`,
			`<base href="https://example.com/docs/"><header>nav</header><p>content</p>`,
		},
		{
			"head after header",
			`<header>x</header><head></head>`,
			`<header>x</header><head><base href="https://example.com/docs/"></head>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := injectBase(tt.in, "https://example.com/docs/")
			if got != tt.want {
				t.Errorf("injectBase:\n got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestInjectBaseComesFirst(t *testing.T) {
	in := `<html><head><base href="https://old/"></head></html>`
	out := injectBase(in, "https://new/")
	if strings.Index(out, "https://new/") > strings.Index(out, "https://old/") {
		t.Errorf("caller base does not precede document base: %s", out)
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	e := New(Config{})
	if err := e.Close(); err != nil {
		t.Errorf("Close on unconnected engine: %v", err)
	}
}
