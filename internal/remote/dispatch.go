package remote

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
)

// Dispatch runs "bubble <args...>" on h via ssh and returns once the
// remote process exits.
func Dispatch(h Host, args []string) error {
	argv := h.SSHCmd([]string{ShellJoin(append([]string{RemoteDir + "/bubble"}, args...))})
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from s (spec.md §4.9:
// surfaced remote error text must not carry terminal control codes).
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// RemoteOpenResult is the parsed machine-readable result of a remote
// "bubble open --machine-readable" invocation.
type RemoteOpenResult struct {
	Raw json.RawMessage
}

// RemoteOpen runs "bubble open --machine-readable <args...>" on h,
// streaming stdout live to out while also capturing it, draining stderr
// concurrently (spec.md §5 "Remote open": one thread reads stderr while
// the main thread reads stdout, joined on completion) to avoid a full
// pipe deadlocking the remote process, and parses the last non-empty
// stdout line as JSON.
func RemoteOpen(h Host, args []string, out io.Writer) (RemoteOpenResult, error) {
	argv := h.SSHCmd([]string{ShellJoin(append([]string{RemoteDir + "/bubble", "open", "--machine-readable"}, args...))})
	cmd := exec.Command(argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RemoteOpenResult{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return RemoteOpenResult{}, err
	}

	if err := cmd.Start(); err != nil {
		return RemoteOpenResult{}, err
	}

	var wg sync.WaitGroup
	var stderrBuf strings.Builder
	wg.Add(1)
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderr)
	}()

	var lastLine string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(out, line)
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
	}

	wg.Wait()
	runErr := cmd.Wait()
	if runErr != nil {
		return RemoteOpenResult{}, fmt.Errorf("remote open failed: %w: %s", runErr, StripANSI(stderrBuf.String()))
	}

	var raw json.RawMessage
	if lastLine != "" {
		if err := json.Unmarshal([]byte(lastLine), &raw); err != nil {
			return RemoteOpenResult{}, fmt.Errorf("parsing remote result: %w", err)
		}
	}
	return RemoteOpenResult{Raw: raw}, nil
}
