package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIncusTimestamp(t *testing.T) {
	ts := parseIncusTimestamp("2024-03-01T12:30:45.123456789Z")
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 30, ts.Minute())

	assert.True(t, parseIncusTimestamp("0001-01-01T00:00:00Z").IsZero())
	assert.True(t, parseIncusTimestamp("").IsZero())
}

func TestStateFromIncus(t *testing.T) {
	assert.Equal(t, StateRunning, stateFromIncus("Running"))
	assert.Equal(t, StateFrozen, stateFromIncus("Frozen"))
	assert.Equal(t, State("custom"), stateFromIncus("Custom"))
}

func TestParseIncusContainer(t *testing.T) {
	c := incusContainer{Name: "bubble-abc", Status: "Running"}
	c.State.Network = map[string]struct {
		Addresses []incusNetAddr `json:"addresses"`
	}{
		"eth0": {Addresses: []incusNetAddr{{Family: "inet6", Address: "::1"}, {Family: "inet", Address: "10.1.2.3"}}},
	}
	info := parseIncusContainer(c)
	assert.Equal(t, "bubble-abc", info.Name)
	assert.Equal(t, StateRunning, info.State)
	assert.Equal(t, "10.1.2.3", info.IPv4)
}

func TestFakeLaunchAndLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	info, err := f.Launch(ctx, "bubble-test", "lean4-base")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, info.State)

	_, err = f.Launch(ctx, "bubble-test", "lean4-base")
	assert.Error(t, err)

	require.NoError(t, f.Freeze(ctx, "bubble-test"))
	list, err := f.ListContainers(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StateFrozen, list[0].State)

	require.NoError(t, f.Unfreeze(ctx, "bubble-test"))
	require.NoError(t, f.Delete(ctx, "bubble-test", false))
	assert.Error(t, f.Delete(ctx, "bubble-test", false))
}

func TestFakeExecRequiresContainer(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, err := f.Exec(ctx, "missing", []string{"true"})
	assert.Error(t, err)
}

func TestFakePublishAndImages(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, err := f.Launch(ctx, "bubble-test", "lean4-base")
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, "bubble-test", "bubble-img-v1"))
	assert.True(t, f.ImageExists(ctx, "bubble-img-v1"))

	require.NoError(t, f.ImageDelete(ctx, "bubble-img-v1"))
	assert.False(t, f.ImageExists(ctx, "bubble-img-v1"))
}
