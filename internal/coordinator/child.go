package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/artpi/jackpoint/internal/relay"
)

// EnvSessionKey exposes the session key to the wrapped program.
const EnvSessionKey = "JACKPOINT_SESSION_KEY"

type childSpec struct {
	program string
	args    []string
	env     []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// runChild starts the program, forwards termination signals to it and
// returns its exit status. SIGINT is not forwarded: the child shares the
// terminal's process group and already receives it.
func runChild(ctx context.Context, spec childSpec) (int, error) {
	cmd := exec.Command(spec.program, spec.args...)
	cmd.Env = spec.env
	cmd.Stdin = spec.stdin
	cmd.Stdout = spec.stdout
	cmd.Stderr = spec.stderr

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 127, fmt.Errorf("failed to start %s: %w", spec.program, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	done := ctx.Done()
	for {
		select {
		case err := <-waitCh:
			return exitCode(err)
		case sig := <-sigCh:
			if sig == syscall.SIGINT {
				continue
			}
			_ = cmd.Process.Signal(sig)
		case <-done:
			done = nil
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

func childEnv(base []string, relayAddr, sessionKey string) []string {
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, relay.EnvAddr+"=") || strings.HasPrefix(kv, EnvSessionKey+"=") {
			continue
		}
		env = append(env, kv)
	}
	if relayAddr != "" {
		env = append(env, relay.EnvAddr+"="+relayAddr)
	}
	return append(env, EnvSessionKey+"="+sessionKey)
}
