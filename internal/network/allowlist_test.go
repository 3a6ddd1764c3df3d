package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/runtime"
)

func TestValidateDomainsRejectsBadEntries(t *testing.T) {
	assert.Error(t, ValidateDomains([]string{"github.com; rm -rf /"}))
	assert.NoError(t, ValidateDomains([]string{"github.com", "*.githubusercontent.com"}))
}

func TestApplyAppendsVSCodeDomainsAndValidates(t *testing.T) {
	ctx := context.Background()
	fake := runtime.NewFake()
	_, err := fake.Launch(ctx, "c1", "base")
	require.NoError(t, err)

	var gotScript string
	fake.ExecFunc = func(name string, cmd []string) (string, error) {
		if len(cmd) == 3 {
			gotScript = cmd[2]
		}
		return "", nil
	}

	require.NoError(t, Apply(ctx, fake, "c1", []string{"github.com"}))
	assert.Contains(t, gotScript, "github.com")
	assert.Contains(t, gotScript, "marketplace.visualstudio.com")
	assert.Contains(t, gotScript, "ip6tables -P OUTPUT DROP")
}

func TestBuildAllowlistScriptHandlesWildcard(t *testing.T) {
	script := buildAllowlistScript([]string{"*.githubusercontent.com"})
	assert.Contains(t, script, "getent ahostsv4 githubusercontent.com")
	assert.Contains(t, script, "did not resolve")
}

func TestIsActiveParsesCount(t *testing.T) {
	ctx := context.Background()
	fake := runtime.NewFake()
	_, err := fake.Launch(ctx, "c1", "base")
	require.NoError(t, err)

	fake.ExecFunc = func(name string, cmd []string) (string, error) { return "3", nil }
	assert.True(t, IsActive(ctx, fake, "c1"))

	fake.ExecFunc = func(name string, cmd []string) (string, error) { return "0", nil }
	assert.False(t, IsActive(ctx, fake, "c1"))
}

func TestRemoveRunsFlushScript(t *testing.T) {
	ctx := context.Background()
	fake := runtime.NewFake()
	_, err := fake.Launch(ctx, "c1", "base")
	require.NoError(t, err)

	var gotScript string
	fake.ExecFunc = func(name string, cmd []string) (string, error) {
		gotScript = cmd[2]
		return "", nil
	}
	require.NoError(t, Remove(ctx, fake, "c1"))
	assert.Contains(t, gotScript, "ACCEPT")
}
