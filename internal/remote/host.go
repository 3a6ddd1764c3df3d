// Package remote implements the SSH remote shim (spec.md §4.9),
// grounded on original_source/bubble/remote.py.
package remote

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var safeNameRE = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]*$`)

// Host is a parsed SSH remote host specification: [user@]host[:port].
type Host struct {
	Hostname string
	User     string
	Port     int

	// ExtraSSHOpts are appended verbatim to every ssh/scp invocation
	// (e.g. -i, IdentitiesOnly=yes, UserKnownHostsFile=... for the
	// cloud-managed key, spec.md §4.9 "Cloud integration").
	ExtraSSHOpts []string
}

// ParseHost parses a remote host spec, strictly validating hostname and
// user to prevent SSH flag injection.
func ParseHost(spec string) (Host, error) {
	user := ""
	port := 22

	if i := strings.LastIndex(spec, "@"); i != -1 {
		user, spec = spec[:i], spec[i+1:]
		if user == "" {
			return Host{}, fmt.Errorf("empty user in SSH spec")
		}
	}

	if i := strings.LastIndex(spec, ":"); i != -1 {
		hostPart, portStr := spec[:i], spec[i+1:]
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return Host{}, fmt.Errorf("invalid port in SSH spec: %q", portStr)
		}
		if p < 1 || p > 65535 {
			return Host{}, fmt.Errorf("port out of range: %d", p)
		}
		port = p
		spec = hostPart
	}

	if spec == "" {
		return Host{}, fmt.Errorf("empty hostname in SSH spec")
	}
	if !safeNameRE.MatchString(spec) {
		return Host{}, fmt.Errorf("invalid hostname: %q (must be alphanumeric, dots, hyphens; cannot start with -)", spec)
	}
	if user != "" && !safeNameRE.MatchString(user) {
		return Host{}, fmt.Errorf("invalid user: %q (must be alphanumeric, dots, hyphens; cannot start with -)", user)
	}

	return Host{Hostname: spec, User: user, Port: port}, nil
}

// SSHDestination returns "user@host" or just "host".
func (h Host) SSHDestination() string {
	if h.User != "" {
		return h.User + "@" + h.Hostname
	}
	return h.Hostname
}

// SSHCmd builds an argv for `ssh` that runs command on the remote.
func (h Host) SSHCmd(command []string) []string {
	cmd := []string{"ssh"}
	cmd = append(cmd, h.ExtraSSHOpts...)
	if h.Port != 22 {
		cmd = append(cmd, "-p", strconv.Itoa(h.Port))
	}
	cmd = append(cmd, h.SSHDestination())
	cmd = append(cmd, command...)
	return cmd
}

// SCPCmd builds an argv for `scp` copying localPath to remotePath on h.
func (h Host) SCPCmd(localPath, remotePath string) []string {
	cmd := []string{"scp", "-q"}
	cmd = append(cmd, h.ExtraSSHOpts...)
	if h.Port != 22 {
		cmd = append(cmd, "-P", strconv.Itoa(h.Port))
	}
	cmd = append(cmd, localPath, h.SSHDestination()+":"+remotePath)
	return cmd
}

// SpecString returns the canonical spec string for h.
func (h Host) SpecString() string {
	s := h.SSHDestination()
	if h.Port != 22 {
		s += ":" + strconv.Itoa(h.Port)
	}
	return s
}

// ShellQuote is the central shell-quoting helper every remote-command
// argv element passes through before being joined for transport over
// ssh, so spaces and metacharacters survive the remote shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes and joins argv for remote execution.
func ShellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}
