// Package tracing wires Langfuse into eino's global callback chain so every
// chat model call made during generation is traced.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docqa-go/internal/config"
)

// defaultHost is used when no Langfuse host is configured.
const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler when both keys are set. It
// returns the handler, a flush function that must be called before process
// exit, and whether tracing is enabled. When disabled the handler and flush
// function are nil.
func Setup(cfg config.TracingConfig) (callbacks.Handler, func(), bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})

	return handler, flusher, true
}

// Install calls Setup and registers the handler globally. The returned
// function flushes pending traces and is always safe to call.
func Install(cfg config.TracingConfig) (flush func(), enabled bool) {
	handler, flusher, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
