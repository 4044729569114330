// Package checker spawns and reaps the one-shot checker subprocess used to
// probe a single instance, and decodes its newline-delimited JSON event
// stream into registry state-machine calls.
package checker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/uuid"

	"github.com/Minoru/minoru-fediverse-crawler"
)

// Handle wraps a spawned checker subprocess. Callers must call Close exactly
// once; Close never leaves a child process running.
type Handle struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	host    string
	checkID uuid.UUID
	started bool
}

// Start spawns `exePath --check host` with stdin closed, stdout piped, and
// stderr discarded.
func Start(ctx context.Context, exePath, host string) (*Handle, error) {
	cmd := exec.CommandContext(ctx, exePath, "--check", host)
	cmd.Stdin = nil
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fedicrawl.NewErrorWithData(fedicrawl.ChildSpawnFailed, err, host)
	}

	if err := cmd.Start(); err != nil {
		return nil, fedicrawl.NewErrorWithData(fedicrawl.ChildSpawnFailed, err, host)
	}

	return &Handle{
		cmd:     cmd,
		stdout:  stdout,
		host:    host,
		checkID: uuid.New(),
		started: true,
	}, nil
}

// CheckID returns this check's correlation id. Process logs it as check_id on
// the lines about the child's output (unparseable lines, read errors); other
// log lines for the check, including the outcome line, do not carry it.
func (h *Handle) CheckID() uuid.UUID {
	return h.checkID
}

// Scanner returns a line scanner over the child's stdout.
func (h *Handle) Scanner() *bufio.Scanner {
	return bufio.NewScanner(h.stdout)
}

// Close reaps the child process, treating it as having exited on its own
// (the normal case: the caller read stdout to EOF first).
func (h *Handle) Close() error {
	return h.close(false)
}

// Abort kills the child process before reaping it. Use this when stopping
// early, e.g. after a protocol violation, so a misbehaving checker doesn't
// keep running after its output has been disqualified.
func (h *Handle) Abort() error {
	return h.close(true)
}

func (h *Handle) close(kill bool) error {
	if !h.started {
		return nil
	}
	h.started = false

	if kill && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return h.cmd.Wait()
}

func (h *Handle) String() string {
	return fmt.Sprintf("checker(host=%s, check_id=%s)", h.host, h.checkID)
}
