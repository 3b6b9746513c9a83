package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"credit-server/internal/infrastructure/config"
)

func TestInitMeter(t *testing.T) {
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	tests := []struct {
		name    string
		cfg     config.OpenTelemetryConfig
		wantErr string
	}{
		{
			name: "正常系: 無効",
			cfg:  config.OpenTelemetryConfig{Enabled: false},
		},
		{
			name: "正常系: stdout",
			cfg:  config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "stdout"},
		},
		{
			name: "正常系: OTLP",
			cfg: config.OpenTelemetryConfig{
				Enabled: true, MetricsExporter: "otlp", OTLPEndpoint: "localhost:4318", OTLPInsecure: true,
				ServiceName: "test-service", ServiceVersion: "1.0.0",
			},
		},
		{
			name:    "異常系: 未対応のエクスポーター",
			cfg:     config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "unsupported"},
			wantErr: "unsupported metrics exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitMeter(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, shutdown)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, shutdown)
			_ = shutdown(context.Background())
		})
	}
}

func TestPrometheusEnabled(t *testing.T) {
	assert.True(t, PrometheusEnabled(&config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "prometheus"}))
	assert.False(t, PrometheusEnabled(&config.OpenTelemetryConfig{Enabled: false, MetricsExporter: "prometheus"}))
	assert.False(t, PrometheusEnabled(&config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "otlp"}))
}
