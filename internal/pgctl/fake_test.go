package pgctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_ImplementsPgController(t *testing.T) {
	var _ PgController = NewFake()
}

func TestFake_StartStopTracksRunning(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Start(ctx))
	status, err := f.Probe(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)

	require.NoError(t, f.Stop(ctx))
	status, err = f.Probe(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)

	assert.Equal(t, []string{"Start", "Probe", "Stop", "Probe"}, f.Calls)
}

func TestFake_PromoteErr(t *testing.T) {
	f := NewFake()
	f.PromoteErr = assertError{}

	err := f.Promote(context.Background())
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "promote failed" }
