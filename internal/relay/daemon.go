package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kim-em/bubble/internal/gitstore"
	"github.com/kim-em/bubble/internal/reporegistry"
)

// Daemon is the relay server: a single accept loop handing connections
// to a bounded worker pool (spec.md §4.8).
type Daemon struct {
	SockPath     string // Linux: unix socket path
	PortFilePath string // macOS: written with the chosen TCP port
	TokensPath   string
	LogPath      string

	Store    *gitstore.Store
	Registry *reporegistry.RepoRegistry

	// Dispatch is invoked for each accepted, authenticated, rate-limit-passed
	// request; the real implementation spawns a detached
	// "bubble open --no-clone --no-interactive <target>" process.
	Dispatch func(targetStr string) error

	logger  *slog.Logger
	tokens  *TokenRegistry
	limiter *RateLimiter
	sem     chan struct{}
}

// NewDaemon constructs a Daemon ready to Serve.
func NewDaemon(sockPath, portFilePath, tokensPath, logPath string, store *gitstore.Store, registry *reporegistry.RepoRegistry, logger *slog.Logger) *Daemon {
	return &Daemon{
		SockPath:     sockPath,
		PortFilePath: portFilePath,
		TokensPath:   tokensPath,
		LogPath:      logPath,
		Store:        store,
		Registry:     registry,
		logger:       logger,
		tokens:       NewTokenRegistry(tokensPath),
		limiter:      NewRateLimiter(),
		sem:          make(chan struct{}, MaxConcurrentHandlers),
	}
}

// Listen opens the platform-appropriate transport: a Unix socket mode
// 0600 on Linux, or TCP loopback on an ephemeral port (with the chosen
// port recorded to PortFilePath) on macOS.
func (d *Daemon) Listen() (net.Listener, error) {
	if runtime.GOOS == "darwin" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		port := ln.Addr().(*net.TCPAddr).Port
		if err := os.WriteFile(d.PortFilePath, []byte(fmt.Sprintf("%d", port)), 0o600); err != nil {
			ln.Close()
			return nil, err
		}
		return ln, nil
	}

	_ = os.Remove(d.SockPath)
	if err := os.MkdirAll(filepath.Dir(d.SockPath), 0o755); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", d.SockPath)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(d.SockPath, 0o600)
	return ln, nil
}

// Serve runs the accept loop until ctx is cancelled or the listener
// errors. New connections are rejected immediately (pre-auth) when the
// worker pool is saturated.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case d.sem <- struct{}{}:
			go func() {
				defer func() { <-d.sem }()
				d.handle(conn)
			}()
		default:
			conn.Close()
		}
	}
}

func (d *Daemon) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, MaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		d.respond(conn, Response{Status: "error", Message: "Invalid request format."})
		d.logResult("parse_error", "", "")
		return
	}

	var req Request
	if err := json.Unmarshal(bytes.TrimRight(buf[:n], "\x00\n"), &req); err != nil {
		d.respond(conn, Response{Status: "error", Message: "Invalid request format."})
		d.logResult("parse_error", "", "")
		return
	}

	name, ok := d.tokens.Resolve(req.Token)
	if req.Token == "" {
		d.respond(conn, Response{Status: "error", Message: "Relay token required."})
		d.logResult("no_token", "", sanitizeLog(req.Target))
		return
	}
	if !ok {
		d.respond(conn, Response{Status: "error", Message: "Invalid relay token."})
		d.logResult("bad_token", "", sanitizeLog(req.Target))
		return
	}

	if !d.limiter.Allow(name) {
		d.respond(conn, Response{Status: "rate_limited"})
		d.logResult("rate_limited", name, sanitizeLog(req.Target))
		return
	}

	t, err := ValidateRelayTarget(req.Target, d.Store, d.Registry)
	if err != nil {
		d.respond(conn, Response{Status: "error", Message: err.Error()})
		d.logResult("invalid_target", name, sanitizeLog(req.Target))
		return
	}

	if d.Dispatch != nil {
		if err := d.Dispatch(t.Original); err != nil {
			d.respond(conn, Response{Status: "error", Message: "dispatch failed"})
			d.logResult("dispatch_error", name, sanitizeLog(req.Target))
			return
		}
	}

	d.respond(conn, Response{Status: "ok"})
	d.logResult("ok", name, sanitizeLog(req.Target))
}

func (d *Daemon) respond(conn net.Conn, resp Response) {
	b, _ := json.Marshal(resp)
	conn.Write(b)
}

func sanitizeLog(s string) string {
	if len(s) > MaxTargetLength {
		s = s[:MaxTargetLength]
	}
	r := strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`)
	return r.Replace(s)
}

func (d *Daemon) logResult(decision, container, target string) {
	line := fmt.Sprintf("%s decision=%s container=%s target=%s\n",
		time.Now().UTC().Format(time.RFC3339), decision, sanitizeLog(container), target)
	f, err := os.OpenFile(d.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("relay: failed to open log", "error", err)
		}
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	w.WriteString(line)
	w.Flush()
}

// DefaultDispatch returns a Dispatch function that spawns a detached
// "bubble open --no-clone --no-interactive <target>" process, the real
// production behavior (spec.md §4.8 "On accept").
func DefaultDispatch(selfPath string) func(string) error {
	return func(targetStr string) error {
		cmd := exec.Command(selfPath, "open", "--no-clone", "--no-interactive", targetStr)
		devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		defer devnull.Close()
		cmd.Stdin = devnull
		cmd.Stdout = devnull
		cmd.Stderr = devnull
		return cmd.Start()
	}
}
