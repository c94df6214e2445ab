package tracing

import (
	"testing"

	"github.com/54b3r/docqa-go/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	tests := []config.TracingConfig{
		{},
		{PublicKey: "pk"},
		{SecretKey: "sk"},
	}
	for _, cfg := range tests {
		h, flush, ok := Setup(cfg)
		if ok || h != nil || flush != nil {
			t.Errorf("Setup(%+v) should be disabled", cfg)
		}
	}
}

func TestInstall_DisabledFlushIsSafe(t *testing.T) {
	t.Parallel()

	flush, ok := Install(config.TracingConfig{})
	if ok {
		t.Fatal("tracing should be disabled without keys")
	}
	flush()
}
