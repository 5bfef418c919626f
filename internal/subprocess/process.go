// Package subprocess launches and supervises an external simulator
// process.
//
// The bridge protocol keeps the controller and the simulator in separate
// processes: the controller listens, the simulator dials in. This package
// owns the simulator side's lifecycle when it is an external binary (an
// Aimsun load script, a replica harness): spawn it with the controller's
// address, collect its stderr for error reporting, and kill it when the
// session closes.
package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/wolflab/simbridge-go/internal/errors"
)

// maxStderrBufferSize caps the stderr buffer kept for error reporting.
// The process may keep writing past the cap, the extra output is dropped.
const maxStderrBufferSize = 1 * 1024 * 1024

// AddrEnv is the environment variable carrying the controller address the
// simulator process must dial.
const AddrEnv = "SIMBRIDGE_ADDR"

// Options configures the simulator process launch.
type Options struct {
	// Command is the simulator binary or script to execute.
	Command string
	// Args are passed verbatim after the command.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
	// Dir is the working directory; the current one when empty.
	Dir string
	// Stderr, when set, receives each stderr line as it arrives.
	Stderr func(line string)
}

// Process is a running simulator subprocess.
type Process struct {
	log  *slog.Logger
	cmd  *exec.Cmd
	done chan error

	mu        sync.Mutex
	closing   bool
	stderrBuf strings.Builder
}

// Start spawns the simulator process with the controller address in its
// environment. The returned Process reports the exit through Done.
func Start(ctx context.Context, log *slog.Logger, addr string, opts Options) (*Process, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("no simulator command configured")
	}

	p := &Process{
		log:  log.With("component", "subprocess"),
		done: make(chan error, 1),
	}

	//nolint:gosec // G204: the simulator command is caller configuration
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, AddrEnv+"="+addr)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.ProcessError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.ProcessError{Err: fmt.Errorf("start process: %w", err)}
	}

	p.cmd = cmd
	p.log.Info("Simulator process started", "command", opts.Command, "pid", cmd.Process.Pid)

	go p.supervise(stderr, opts.Stderr)

	return p, nil
}

// supervise drains stderr, then waits for the exit and publishes it. The
// stderr read must complete before Wait releases the pipe.
func (p *Process) supervise(stderr io.ReadCloser, callback func(string)) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()

		if p.stderrBuf.Len() < maxStderrBufferSize {
			if p.stderrBuf.Len() > 0 {
				p.stderrBuf.WriteString("\n")
			}

			p.stderrBuf.WriteString(line)
		}

		p.mu.Unlock()

		if callback != nil {
			callback(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Debug("Stderr scanner error", "error", err)
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	closing := p.closing
	captured := p.stderrBuf.String()
	p.mu.Unlock()

	if err == nil || closing {
		p.log.Info("Simulator process exited", "pid", p.cmd.Process.Pid)
		p.done <- nil

		return
	}

	exitCode := 0
	if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
		exitCode = exitErr.ExitCode()
	}

	p.log.Error("Simulator process failed", "exit_code", exitCode, "stderr", captured)

	p.done <- &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   captured,
		Err:      err,
	}
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done delivers the process exit exactly once: nil on a clean exit or an
// intentional Close, a ProcessError carrying the exit code and captured
// stderr otherwise.
func (p *Process) Done() <-chan error {
	return p.done
}

// Close kills the process. The exit it forces is reported as clean
// through Done.
func (p *Process) Close() error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	return nil
}
