package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kim-em/bubble/internal/config"
)

func testPaths(t *testing.T) config.Paths {
	return config.Paths{DataDir: t.TempDir()}
}

func TestEnsureSSHKeyGeneratesThenReuses(t *testing.T) {
	paths := testPaths(t)

	privPath, pub1, err := EnsureSSHKey(paths)
	require.NoError(t, err)
	require.Equal(t, paths.CloudKeyFile(), privPath)
	require.True(t, strings.HasPrefix(pub1, "ssh-ed25519 "))

	_, pub2, err := EnsureSSHKey(paths)
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2, "second call should reuse the existing keypair, not regenerate")
}

func TestStateRoundTrip(t *testing.T) {
	paths := testPaths(t)
	st := &State{Provider: "hetzner", ServerID: 42, ServerName: "bubble-cloud", IPv4: "1.2.3.4"}

	require.NoError(t, saveState(paths.CloudStateFile(), st))
	loaded, err := loadState(paths.CloudStateFile())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, *st, *loaded)

	require.NoError(t, clearState(paths.CloudStateFile()))
	loaded, err = loadState(paths.CloudStateFile())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestAPIErrorProbeable(t *testing.T) {
	assert.True(t, (&APIError{Code: "resource_unavailable"}).Probeable())
	assert.True(t, (&APIError{Code: "limit_exceeded"}).Probeable())
	assert.False(t, (&APIError{Code: "unauthorized"}).Probeable())
}

func TestCloudInitScriptEmbedsIdleTimeout(t *testing.T) {
	script := cloudInitScript("1200")
	assert.True(t, strings.Contains(script, "IDLE_TIMEOUT=1200"))
	assert.True(t, strings.Contains(script, "touch /var/run/bubble-cloud-ready"))
}

func TestCloudInitScriptDefaultsIdleTimeout(t *testing.T) {
	script := cloudInitScript("")
	assert.True(t, strings.Contains(script, "IDLE_TIMEOUT=900"))
}

// fakeHetznerServer stands in for the Hetzner Cloud API for Provision
// round-trip coverage without a live token.
func fakeHetznerServer(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var nextID int64 = 1000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/ssh_keys":
			_ = json.NewEncoder(w).Encode(map[string]any{"ssh_keys": []any{}})
		case r.Method == http.MethodPost && r.URL.Path == "/ssh_keys":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ssh_key": map[string]any{"id": 55, "name": "bubble-bubble-cloud"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/servers":
			nextID++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"server": map[string]any{
					"id":     nextID,
					"name":   "bubble-cloud",
					"status": "running",
					"public_net": map[string]any{
						"ipv4": map[string]any{"ip": "203.0.113.5"},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, &nextID
}

func TestProvisionRefusesWhenStateAlreadyExists(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, saveState(paths.CloudStateFile(), &State{ServerName: "existing", IPv4: "1.1.1.1"}))

	c := NewClient("token", paths, config.CloudConfig{})
	_, err := c.Provision(context.Background(), "", "", "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
}

func TestProvisionCreatesServerAndSavesState(t *testing.T) {
	srv, _ := fakeHetznerServer(t)
	defer srv.Close()

	paths := testPaths(t)
	c := NewClient("token", paths, config.CloudConfig{ServerName: "bubble-cloud", Location: "fsn1"})
	c.baseURL = srv.URL
	c.waitForCloudInit = func(context.Context, string) error { return nil }

	st, err := c.Provision(context.Background(), "cx43", "fsn1", "600")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", st.IPv4)
	assert.Equal(t, "hetzner", st.Provider)
	assert.Equal(t, int64(55), st.SSHKeyID)

	loaded, err := loadState(paths.CloudStateFile())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "203.0.113.5", loaded.IPv4)
}

func TestStatusReturnsNotFoundWhenServerGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "not_found", "message": "server not found"},
		})
	}))
	defer srv.Close()

	paths := testPaths(t)
	require.NoError(t, saveState(paths.CloudStateFile(), &State{ServerID: 99, ServerName: "bubble-cloud"}))

	c := NewClient("token", paths, config.CloudConfig{})
	c.baseURL = srv.URL

	_, status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not_found", status)
}

func TestStatusReturnsNilWhenNoStateSaved(t *testing.T) {
	paths := testPaths(t)
	c := NewClient("token", paths, config.CloudConfig{})
	st, _, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}
