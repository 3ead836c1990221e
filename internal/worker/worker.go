// Package worker dispatches one generation to an isolated one-shot
// subprocess over a JSON-lines request/response channel, so a misbehaving
// rendering collaborator cannot destabilize the parent process.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const dispatchTimeout = 30 * time.Second

// Request is the JSON-lines message sent to the worker's stdin.
type Request struct {
	Action  string `json:"action"`
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
}

// Response is the JSON-lines message read back from the worker's stdout.
type Response struct {
	Success     bool    `json:"success"`
	Bytes       []byte  `json:"bytes,omitempty"`
	ContentType string  `json:"contentType,omitempty"`
	ImageType   string  `json:"imageType,omitempty"`
	CRC32       string  `json:"crc32,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	EventCount  int     `json:"eventCount,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Record is the artifact produced by a successful dispatch, handed to the
// Artifact Cache and Change History by the caller.
type Record struct {
	Bytes              []byte
	ContentType        string
	ImageType          string
	CRC32              string
	GenerationDuration float64
	EventCount         int
}

// Spawner launches the isolated worker subprocess. The default
// implementation re-invokes the running binary with the hidden
// "internal-worker" subcommand; tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context) (*exec.Cmd, error)
}

// ExecSpawner spawns the worker by re-invoking executablePath with the
// "internal-worker" subcommand.
type ExecSpawner struct {
	ExecutablePath string
}

func (s ExecSpawner) Spawn(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, s.ExecutablePath, "internal-worker")
	// On timeout the worker gets SIGTERM first, with a bounded grace before
	// the runtime falls back to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd, nil
}

// Dispatcher runs generations in isolated subprocesses.
type Dispatcher struct {
	spawner Spawner
	log     *slog.Logger
	timeout time.Duration
}

// New returns a Dispatcher that spawns workers via spawner.
func New(spawner Spawner, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{spawner: spawner, log: log, timeout: dispatchTimeout}
}

// SetTimeout overrides the default dispatch timeout. Zero or negative values
// are ignored.
func (d *Dispatcher) SetTimeout(t time.Duration) {
	if t > 0 {
		d.timeout = t
	}
}

// Dispatch spawns a worker, sends a generate request, and waits for its
// response. On timeout the worker is sent SIGTERM, then SIGKILL if it does
// not exit promptly, and the dispatch is surfaced as a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, name, trigger string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd, err := d.spawner.Spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("spawning worker: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	req := Request{Action: "generate", Name: name, Trigger: trigger}
	if err := json.NewEncoder(stdin).Encode(req); err != nil {
		d.terminate(cmd)
		return nil, fmt.Errorf("writing request to worker: %w", err)
	}
	stdin.Close()

	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				errCh <- fmt.Errorf("reading worker response: %w", err)
				return
			}
			errCh <- fmt.Errorf("worker produced no response")
			return
		}
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			errCh <- fmt.Errorf("parsing worker response: %w", err)
			return
		}
		respCh <- resp
	}()

	select {
	case <-ctx.Done():
		d.terminate(cmd)
		return nil, fmt.Errorf("worker dispatch for %q timed out after %s", name, d.timeout)
	case err := <-errCh:
		d.terminate(cmd)
		return nil, err
	case resp := <-respCh:
		waitErr := cmd.Wait()
		if !resp.Success {
			return nil, fmt.Errorf("worker reported failure for %q: %s", name, resp.Error)
		}
		if waitErr != nil {
			d.log.Warn("worker exited with error after reporting success", "name", name, "error", waitErr)
		}
		return &Record{
			Bytes:              resp.Bytes,
			ContentType:        resp.ContentType,
			ImageType:          resp.ImageType,
			CRC32:              resp.CRC32,
			GenerationDuration: resp.Duration,
			EventCount:         resp.EventCount,
		}, nil
	}
}

func (d *Dispatcher) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		d.log.Debug("SIGTERM delivery failed, proceeding to SIGKILL", "error", err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}
