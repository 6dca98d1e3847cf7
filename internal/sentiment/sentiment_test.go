package sentiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderDefaultsToNeutral(t *testing.T) {
	p := NewStatic(map[string]float64{"AAPL": 0.4})

	score, err := p.GetScore(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.4, score)

	unknown, err := p.GetScore(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Zero(t, unknown, "absent symbols read neutral")
}

func TestStaticProviderClampsToRange(t *testing.T) {
	p := NewStatic(nil)
	p.Set("AAPL", 3.0)
	p.Set("TSLA", -2.5)

	up, _ := p.GetScore(context.Background(), "AAPL")
	down, _ := p.GetScore(context.Background(), "TSLA")
	assert.Equal(t, 1.0, up)
	assert.Equal(t, -1.0, down)
}
