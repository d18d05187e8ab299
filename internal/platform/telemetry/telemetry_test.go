package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledProviderTracksWithoutExporters(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.TrackOperation(context.Background(), "approval.approve", attribute.String("chain_id", "c-1"))
	assert.NotNil(t, ctx)
	done(errors.New("stale"))

	_, done = p.TrackOperation(context.Background(), "approval.deny")
	done(nil)

	assert.NoError(t, p.Shutdown(context.Background()))
}
