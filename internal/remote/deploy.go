package remote

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RemoteDir is where the deployed binary and its version marker live.
const RemoteDir = "/tmp/bubble-remote"

// EnsureDeployed uploads localBinaryPath to h if the remote's recorded
// version marker doesn't already match version, verifying the upload by
// running "bubble --version" remotely before trusting it (spec.md §4.9
// "Deployment"). Unlike the original Python implementation, which had to
// bundle interpreter-dependent source plus pure dependencies, a compiled
// Go binary is self-contained: deployment is a single scp of the binary.
func EnsureDeployed(h Host, localBinaryPath, version string) error {
	markerCmd := h.SSHCmd([]string{"cat", RemoteDir + "/version", "2>/dev/null", "||", "true"})
	out, _ := runCaptured(markerCmd)
	if strings.TrimSpace(out) == version {
		return nil
	}

	mkdirCmd := h.SSHCmd([]string{"mkdir", "-p", "-m", "700", RemoteDir})
	if _, err := runCaptured(mkdirCmd); err != nil {
		return fmt.Errorf("creating remote dir: %w", err)
	}

	scpCmd := h.SCPCmd(localBinaryPath, RemoteDir+"/bubble")
	if _, err := runCaptured(scpCmd); err != nil {
		return fmt.Errorf("uploading bubble binary: %w", err)
	}

	chmodCmd := h.SSHCmd([]string{"chmod", "700", RemoteDir + "/bubble"})
	if _, err := runCaptured(chmodCmd); err != nil {
		return fmt.Errorf("chmod remote binary: %w", err)
	}

	versionOut, err := runCaptured(h.SSHCmd([]string{RemoteDir + "/bubble", "--version"}))
	if err != nil {
		return fmt.Errorf("verifying remote binary: %w", err)
	}
	if !strings.Contains(versionOut, version) {
		return fmt.Errorf("remote binary reports unexpected version: %q", strings.TrimSpace(versionOut))
	}

	writeMarkerCmd := h.SSHCmd([]string{"sh", "-c", "echo " + ShellQuote(version) + " > " + RemoteDir + "/version"})
	if _, err := runCaptured(writeMarkerCmd); err != nil {
		return fmt.Errorf("writing version marker: %w", err)
	}
	return nil
}

func runCaptured(argv []string) (string, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Stdin = nil
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, out.String())
	}
	return out.String(), nil
}

// selfBinaryPath returns the path to the currently running executable,
// used as the default source for EnsureDeployed.
func selfBinaryPath() (string, error) {
	return os.Executable()
}
