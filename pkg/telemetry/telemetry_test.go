package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/pkg/telemetry"
)

func TestInit_WithoutEndpointUsesNoopProvider(t *testing.T) {
	tel, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ironstar-test",
	})
	require.NoError(t, err)
	require.NotNil(t, tel.Provider)

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestInit_WithBadEndpointDegradesGracefully(t *testing.T) {
	tel, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:  "ironstar-test",
		OTLPEndpoint: "127.0.0.1:0",
		SampleRate:   1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, tel.Provider)
	require.NoError(t, tel.Shutdown(context.Background()))
}
