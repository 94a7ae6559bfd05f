package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
)

func TestSetupLogger_FormatsAndLevels(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"dev json", config.Config{AppEnv: "dev", LogLevel: "info", LogFormat: "json", ServiceName: "svc"}},
		{"prod json", config.Config{AppEnv: "prod", LogLevel: "info", LogFormat: "json", ServiceName: "svc"}},
		{"text", config.Config{AppEnv: "prod", LogLevel: "warn", LogFormat: "text", ServiceName: "svc"}},
		{"error level", config.Config{AppEnv: "prod", LogLevel: "error", LogFormat: "json", ServiceName: "svc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg := SetupLogger(tt.cfg)
			require.NotNil(t, lg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "INFO", parseLevel("info").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}

func TestMetricsHelpers(t *testing.T) {
	InitMetrics()
	InitMetrics() // second call must not panic

	ObserveHandler("quality_assessment", "completed", 120*time.Millisecond)
	SetBreakerState("analyzer", 1)
	ObserveScore(0.737, 0.71)
	ObserveScore(4.2, -1) // out-of-range values dropped
	ActiveRetries.Inc()
	ActiveRetries.Dec()
	RetriesScheduledTotal.WithLabelValues("timeout").Inc()
	DLQPublishedTotal.WithLabelValues("invalid_input").Inc()
	EventsPublishedTotal.WithLabelValues("code-analysis-completed").Inc()
	ConsumerLag.WithLabelValues("topic", "0").Set(3)
}

func TestRegisterCacheGauges(t *testing.T) {
	RegisterCacheGauges(func() float64 { return 0.5 }, func() int { return 7 })
}
