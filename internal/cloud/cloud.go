// Package cloud provisions and manages a Hetzner Cloud server as a
// remote bubble host, grounded on original_source/bubble/cloud.py.
// The original shells to the hcloud Python SDK; no Go hcloud SDK
// exists in the pack, so this talks to the Hetzner Cloud REST API
// directly over net/http + encoding/json, the same wrap-a-REST-API
// idiom the teacher's OAuth providers use (e.g.
// pkg/devclaw/oauth/providers/gemini.go). SSH keypair generation uses
// golang.org/x/crypto/ssh instead of shelling to ssh-keygen: the
// teacher's go.mod already declares golang.org/x/crypto but no file
// in its tree imports it, so this is the home that dependency never
// got.
package cloud

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kim-em/bubble/internal/config"
	"github.com/kim-em/bubble/internal/remote"
)

const apiBase = "https://api.hetzner.cloud/v1"

// State is the persisted record of a provisioned cloud server
// (spec.md's CloudState: provider, server_id, server_name, ipv4,
// server_type, location, ssh_key_id).
type State struct {
	Provider   string `json:"provider"`
	ServerID   int64  `json:"server_id"`
	ServerName string `json:"server_name"`
	IPv4       string `json:"ipv4"`
	ServerType string `json:"server_type"`
	Location   string `json:"location"`
	SSHKeyID   int64  `json:"ssh_key_id"`
}

func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func saveState(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func clearState(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Client is a Hetzner Cloud API client plus bubble's on-disk cloud
// state (spec.md §4.9 "Cloud integration").
type Client struct {
	token    string
	http     *http.Client
	baseURL  string
	paths    config.Paths
	cloudCfg config.CloudConfig

	// waitForSSH and waitForCloudInit are overridable in tests to
	// avoid shelling out to a real ssh binary against an
	// unreachable address.
	waitForSSH       func(ctx context.Context, ipv4 string) error
	waitForCloudInit func(ctx context.Context, ipv4 string) error
}

// NewClient creates a Client using token (the Hetzner API token,
// typically from $HETZNER_TOKEN or internal/secrets).
func NewClient(token string, paths config.Paths, cloudCfg config.CloudConfig) *Client {
	c := &Client{
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  apiBase,
		paths:    paths,
		cloudCfg: cloudCfg,
	}
	c.waitForSSH = func(ctx context.Context, ipv4 string) error {
		return waitForSSHViaExec(ctx, ipv4, c.paths, 2*time.Minute)
	}
	c.waitForCloudInit = func(ctx context.Context, ipv4 string) error {
		return waitForCloudInitViaExec(ctx, ipv4, c.paths, 5*time.Minute)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hetzner API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		return &APIError{Code: apiErr.Error.Code, Message: apiErr.Error.Message, StatusCode: resp.StatusCode}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// APIError wraps a Hetzner Cloud API error response.
type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hetzner API error %s: %s (http %d)", e.Code, e.Message, e.StatusCode)
}

// Probeable reports whether the error code indicates a resource
// availability or account-limit issue worth probing alternatives for,
// matching _PROBEABLE_CODES in the original.
func (e *APIError) Probeable() bool {
	switch e.Code {
	case "resource_unavailable", "limit_exceeded", "placement_error":
		return true
	default:
		return false
	}
}

// server mirrors the subset of the Hetzner server resource bubble
// uses.
type server struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	PublicNet struct {
		IPv4 struct {
			IP string `json:"ip"`
		} `json:"ipv4"`
	} `json:"public_net"`
}

type sshKey struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

func (c *Client) getServer(ctx context.Context, id int64) (*server, error) {
	var resp struct {
		Server server `json:"server"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/servers/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Server, nil
}

func (c *Client) findSSHKeyByName(ctx context.Context, name string) (*sshKey, error) {
	var resp struct {
		SSHKeys []sshKey `json:"ssh_keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/ssh_keys?name="+name, nil, &resp); err != nil {
		return nil, err
	}
	for _, k := range resp.SSHKeys {
		if k.Name == name {
			return &k, nil
		}
	}
	return nil, nil
}

func (c *Client) ensureRemoteSSHKey(ctx context.Context, name, publicKey string) (*sshKey, error) {
	existing, err := c.findSSHKeyByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.PublicKey == publicKey || existing.PublicKey+"\n" == publicKey {
			return existing, nil
		}
		if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/ssh_keys/%d", existing.ID), nil, nil); err != nil {
			return nil, fmt.Errorf("replacing stale cloud SSH key: %w", err)
		}
	}

	var resp struct {
		SSHKey sshKey `json:"ssh_key"`
	}
	err = c.do(ctx, http.MethodPost, "/ssh_keys", map[string]string{
		"name":       name,
		"public_key": publicKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.SSHKey, nil
}

// EnsureSSHKey ensures a bubble cloud SSH keypair exists on disk,
// generating an ed25519 pair via golang.org/x/crypto/ssh if missing,
// and returns (private key path, public key in authorized_keys form).
func EnsureSSHKey(paths config.Paths) (string, string, error) {
	priv := paths.CloudKeyFile()
	pub := paths.CloudKeyPubFile()

	pubData, pubErr := os.ReadFile(pub)
	if _, privErr := os.Stat(priv); privErr == nil && pubErr == nil && len(pubData) > 0 {
		return priv, string(pubData), nil
	}

	if err := os.MkdirAll(paths.DataDir, 0o755); err != nil {
		return "", "", err
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating cloud SSH keypair: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "bubble-cloud")
	if err != nil {
		return "", "", fmt.Errorf("marshaling cloud SSH private key: %w", err)
	}
	if err := os.WriteFile(priv, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		return "", "", err
	}

	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", "", err
	}
	authorizedKey := ssh.MarshalAuthorizedKey(sshPub)
	if err := os.WriteFile(pub, authorizedKey, 0o644); err != nil {
		return "", "", err
	}

	return priv, string(authorizedKey), nil
}

// sshOptions builds the ssh/scp option set bubble uses for every
// connection to a cloud-managed server: the bubble cloud key, a
// dedicated known_hosts file, and accept-new host key policy.
func sshOptions(paths config.Paths) []string {
	return []string{
		"-i", paths.CloudKeyFile(),
		"-o", "IdentitiesOnly=yes",
		"-o", "UserKnownHostsFile=" + paths.CloudKnownHosts(),
		"-o", "StrictHostKeyChecking=accept-new",
	}
}

func forgetKnownHost(paths config.Paths, ipv4 string) {
	if ipv4 == "" {
		return
	}
	if _, err := os.Stat(paths.CloudKnownHosts()); err != nil {
		return
	}
	cmd := exec.Command("ssh-keygen", "-R", ipv4, "-f", paths.CloudKnownHosts())
	_ = cmd.Run()
}

// Status reports the enriched cloud server state, or nil if no
// server is provisioned.
func (c *Client) Status(ctx context.Context) (*State, string, error) {
	st, err := loadState(c.paths.CloudStateFile())
	if err != nil || st == nil {
		return st, "", err
	}
	srv, err := c.getServer(ctx, st.ServerID)
	if err != nil {
		return st, "not_found", nil
	}
	return st, srv.Status, nil
}

// Provision creates a new Hetzner Cloud server running the cloud-init
// script that installs Incus and idle auto-shutdown, registers bubble's
// cloud SSH key, and waits for the cloud-init readiness marker.
func (c *Client) Provision(ctx context.Context, serverType, location, idleTimeout string) (*State, error) {
	if existing, err := loadState(c.paths.CloudStateFile()); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("cloud server already exists: %s (%s); destroy it first", existing.ServerName, existing.IPv4)
	}

	if serverType == "" {
		serverType = c.cloudCfg.ServerType
	}
	if serverType == "" {
		serverType = "cx43"
	}
	if location == "" {
		location = c.cloudCfg.Location
	}
	serverName := c.cloudCfg.ServerName
	if serverName == "" {
		serverName = "bubble-cloud"
	}

	_, pubKey, err := EnsureSSHKey(c.paths)
	if err != nil {
		return nil, err
	}
	key, err := c.ensureRemoteSSHKey(ctx, "bubble-"+serverName, pubKey)
	if err != nil {
		return nil, fmt.Errorf("registering cloud SSH key: %w", err)
	}

	var resp struct {
		Server server `json:"server"`
	}
	createReq := map[string]any{
		"name":             serverName,
		"server_type":      serverType,
		"image":            "ubuntu-24.04",
		"location":         location,
		"ssh_keys":         []int64{key.ID},
		"user_data":        cloudInitScript(idleTimeout),
		"start_after_create": true,
	}
	if err := c.do(ctx, http.MethodPost, "/servers", createReq, &resp); err != nil {
		return nil, fmt.Errorf("creating cloud server: %w", err)
	}

	ipv4 := resp.Server.PublicNet.IPv4.IP
	for i := 0; ipv4 == "" && i < 12; i++ {
		time.Sleep(5 * time.Second)
		srv, err := c.getServer(ctx, resp.Server.ID)
		if err == nil {
			ipv4 = srv.PublicNet.IPv4.IP
		}
	}
	if ipv4 == "" {
		return nil, fmt.Errorf("server created but no IPv4 address was assigned")
	}

	st := &State{
		Provider:   "hetzner",
		ServerID:   resp.Server.ID,
		ServerName: serverName,
		IPv4:       ipv4,
		ServerType: serverType,
		Location:   location,
		SSHKeyID:   key.ID,
	}
	if err := saveState(c.paths.CloudStateFile(), st); err != nil {
		return nil, err
	}

	if err := c.waitForCloudInit(ctx, ipv4); err != nil {
		return st, err
	}
	return st, nil
}

// Destroy deletes the cloud server, its registered SSH key, and
// bubble's local state and known_hosts entry for it.
func (c *Client) Destroy(ctx context.Context) error {
	st, err := loadState(c.paths.CloudStateFile())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no cloud server to destroy")
	}

	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/servers/%d", st.ServerID), nil, nil); err != nil {
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusNotFound {
			return fmt.Errorf("deleting cloud server (state preserved for retry): %w", err)
		}
	}
	if st.SSHKeyID != 0 {
		_ = c.do(ctx, http.MethodDelete, fmt.Sprintf("/ssh_keys/%d", st.SSHKeyID), nil, nil)
	}
	forgetKnownHost(c.paths, st.IPv4)
	return clearState(c.paths.CloudStateFile())
}

// Stop powers off the cloud server (halting hourly billing).
func (c *Client) Stop(ctx context.Context) error {
	st, err := loadState(c.paths.CloudStateFile())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no cloud server configured")
	}
	srv, err := c.getServer(ctx, st.ServerID)
	if err != nil {
		return fmt.Errorf("cloud server %d not found on Hetzner: %w", st.ServerID, err)
	}
	if srv.Status == "off" {
		return nil
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/actions/poweroff", st.ServerID), nil, nil)
}

// Start powers on the cloud server and waits for SSH.
func (c *Client) Start(ctx context.Context) error {
	st, err := loadState(c.paths.CloudStateFile())
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no cloud server configured")
	}
	srv, err := c.getServer(ctx, st.ServerID)
	if err != nil {
		return fmt.Errorf("cloud server %d not found on Hetzner: %w", st.ServerID, err)
	}
	if srv.Status == "running" {
		return c.refreshIP(ctx, st)
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/actions/poweron", st.ServerID), nil, nil); err != nil {
		return err
	}
	time.Sleep(3 * time.Second)
	if err := c.refreshIP(ctx, st); err != nil {
		return err
	}
	return c.waitForSSH(ctx, st.IPv4)
}

// GetRemoteHost returns the provisioned cloud server as a remote.Host,
// powering it on and waiting for SSH if it's currently off
// (spec.md §4.9's power-cycle-before-use integration point).
func GetRemoteHost(ctx context.Context, c *Client) (remote.Host, error) {
	st, err := loadState(c.paths.CloudStateFile())
	if err != nil {
		return remote.Host{}, err
	}
	if st == nil {
		return remote.Host{}, fmt.Errorf("no cloud server provisioned; run `bubble cloud provision` first")
	}

	srv, err := c.getServer(ctx, st.ServerID)
	if err != nil {
		return remote.Host{}, fmt.Errorf("cloud server %d not found on Hetzner (it may have been deleted externally; run `bubble cloud destroy`): %w", st.ServerID, err)
	}

	switch srv.Status {
	case "off":
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/servers/%d/actions/poweron", st.ServerID), nil, nil); err != nil {
			return remote.Host{}, fmt.Errorf("powering on cloud server: %w", err)
		}
		time.Sleep(3 * time.Second)
		if err := c.refreshIP(ctx, st); err != nil {
			return remote.Host{}, err
		}
		if err := c.waitForSSH(ctx, st.IPv4); err != nil {
			return remote.Host{}, err
		}
	case "running":
		if err := c.refreshIP(ctx, st); err != nil {
			return remote.Host{}, err
		}
	default:
		return remote.Host{}, fmt.Errorf("cloud server is in unexpected state %q; check with `bubble cloud status`", srv.Status)
	}

	return remote.Host{
		Hostname:     st.IPv4,
		User:         "root",
		Port:         22,
		ExtraSSHOpts: sshOptions(c.paths),
	}, nil
}

func (c *Client) refreshIP(ctx context.Context, st *State) error {
	srv, err := c.getServer(ctx, st.ServerID)
	if err != nil {
		return err
	}
	newIP := srv.PublicNet.IPv4.IP
	if newIP != "" && newIP != st.IPv4 {
		oldIP := st.IPv4
		st.IPv4 = newIP
		if err := saveState(c.paths.CloudStateFile(), st); err != nil {
			return err
		}
		forgetKnownHost(c.paths, oldIP)
	}
	return nil
}

func waitForSSHViaExec(ctx context.Context, ipv4 string, paths config.Paths, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		args := append(sshOptions(paths), "-o", "ConnectTimeout=5", "root@"+ipv4, "echo ok")
		cmd := exec.CommandContext(ctx, "ssh", args...)
		if err := cmd.Run(); err == nil {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("cannot reach %s via SSH after %s", ipv4, timeout)
}

func waitForCloudInitViaExec(ctx context.Context, ipv4 string, paths config.Paths, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		args := append(sshOptions(paths), "-o", "ConnectTimeout=10", "root@"+ipv4,
			"test -f /var/run/bubble-cloud-ready && echo ready")
		cmd := exec.CommandContext(ctx, "ssh", args...)
		out, err := cmd.Output()
		if err == nil && bytes.Contains(out, []byte("ready")) {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("server at %s did not become ready within %s; check cloud-init logs: ssh root@%s 'cat /var/log/cloud-init-output.log'", ipv4, timeout, ipv4)
}
