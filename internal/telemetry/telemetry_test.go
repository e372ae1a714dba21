package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpast043/IntoTheUnknown/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NotNil(t, p)

	// Delegates to the global no-op providers.
	assert.NotNil(t, p.Tracer("test"))
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderSafe(t *testing.T) {
	var p *Provider
	assert.NotNil(t, p.Tracer("test"))
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}
