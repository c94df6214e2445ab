// Package audit provides a structured audit logger for CLI command invocations.
// It logs the command name and the resolved configuration so operators can
// trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/docqa-go/internal/config"
)

// auditField is one configuration value included in every audit entry.
type auditField struct {
	// key is the attribute name.
	key string
	// value extracts the value from the resolved config.
	value func(*config.Config) string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditFields is the ordered list of values included in every audit entry.
var auditFields = []auditField{
	{"store.backend", func(c *config.Config) string { return c.Store.Backend }, false},
	{"store.index", func(c *config.Config) string { return c.Store.Index }, false},
	{"store.metric", func(c *config.Config) string { return c.Store.Metric }, false},
	{"store.qdrant.host", func(c *config.Config) string { return c.Store.Qdrant.Host }, false},
	{"store.qdrant.port", func(c *config.Config) string { return strconv.Itoa(c.Store.Qdrant.Port) }, false},
	{"store.qdrant.api_key", func(c *config.Config) string { return c.Store.Qdrant.APIKey }, true},
	{"store.chromem.path", func(c *config.Config) string { return c.Store.Chromem.Path }, false},
	{"store.postgres.dsn", func(c *config.Config) string { return c.Store.Postgres.DSN }, true},
	{"embedding.provider", func(c *config.Config) string { return c.Embedding.Provider }, false},
	{"embedding.model", func(c *config.Config) string { return c.Embedding.Model }, false},
	{"embedding.api_key", func(c *config.Config) string { return c.Embedding.APIKey }, true},
	{"chunking.size", func(c *config.Config) string { return strconv.Itoa(c.Chunking.Size) }, false},
	{"chunking.overlap", func(c *config.Config) string { return strconv.Itoa(c.Chunking.Overlap) }, false},
	{"retrieval.top_k", func(c *config.Config) string { return strconv.Itoa(c.Retrieval.TopK) }, false},
	{"generation.mode", func(c *config.Config) string { return c.Generation.Mode }, false},
	{"generation.provider", func(c *config.Config) string { return c.Generation.Provider }, false},
	{"generation.model", func(c *config.Config) string { return c.Generation.Model }, false},
	{"generation.api_key", func(c *config.Config) string { return c.Generation.APIKey }, true},
	{"ingestion.ledger_path", func(c *config.Config) string { return c.Ingestion.LedgerPath }, false},
	{"logging.level", func(c *config.Config) string { return c.Logging.Level }, false},
	{"logging.format", func(c *config.Config) string { return c.Logging.Format }, false},
	{"tracing.public_key", func(c *config.Config) string { return c.Tracing.PublicKey }, true},
	{"tracing.secret_key", func(c *config.Config) string { return c.Tracing.SecretKey }, true},
}

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised configuration.
func LogCommandStart(log *slog.Logger, command string, configPath string, cfg *config.Config) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, f := range auditFields {
		attrs = append(attrs, slog.String(f.key, Sanitise(f.value(cfg), f.secret)))
	}

	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// Sanitise returns "set" or "unset" for secrets, or the value itself (or
// "unset") for everything else. This is safe to use in log messages.
func Sanitise(value string, secret bool) string {
	if secret {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
