package vstore

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// NormalizePort ensures ports include the leading colon and falls back to
// fallback, then ":8080", when unset. Host:port values pass through.
func NormalizePort(port, fallback string) string {
	p := strings.TrimSpace(port)
	if p == "" {
		p = fallback
	}
	if p == "" {
		return ":8080"
	}
	if strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}
