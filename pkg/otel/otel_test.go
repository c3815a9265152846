package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutCollector(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "georisk-test", ServiceVersion: "dev"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingExporter(t *testing.T) {
	// The HTTP exporter connects lazily, so an unreachable endpoint is fine.
	shutdown, err := Setup(context.Background(), Config{
		ServiceName:  "georisk-test",
		OTLPEndpoint: "127.0.0.1:1",
		OTLPInsecure: true,
		SampleRatio:  0.5,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
