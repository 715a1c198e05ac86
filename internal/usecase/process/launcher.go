package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Command is a fully resolved child process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	Cols uint16
	Rows uint16
}

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	Code   int
	Signal string
}

// Handle is a running child attached to a terminal. Read yields terminal
// output, Write feeds terminal input.
type Handle interface {
	io.ReadWriter
	Pid() int
	Resize(cols, rows uint16) error
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the child exits. It is called exactly once.
	Wait() (ExitStatus, error)
	// Close releases the terminal. Pending reads return an error.
	Close() error
}

// Launcher starts child processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Handle, error)
}

// PTYLauncher starts children on a fresh pseudo-terminal.
type PTYLauncher struct{}

// Launch starts cmd on a new PTY sized cmd.Cols x cmd.Rows. The child is not
// bound to ctx; it outlives the request that spawned it.
func (PTYLauncher) Launch(ctx context.Context, cmd Command) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env

	f, err := pty.StartWithSize(c, &pty.Winsize{Cols: cmd.Cols, Rows: cmd.Rows})
	if err != nil {
		return nil, err
	}
	return &ptyHandle{cmd: c, tty: f}, nil
}

type ptyHandle struct {
	cmd *exec.Cmd
	tty *os.File
}

func (h *ptyHandle) Read(p []byte) (int, error)  { return h.tty.Read(p) }
func (h *ptyHandle) Write(p []byte) (int, error) { return h.tty.Write(p) }
func (h *ptyHandle) Pid() int                    { return h.cmd.Process.Pid }
func (h *ptyHandle) Close() error                { return h.tty.Close() }

func (h *ptyHandle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

func (h *ptyHandle) Signal(sig os.Signal) error {
	return ignoreDone(h.cmd.Process.Signal(sig))
}

func (h *ptyHandle) Kill() error {
	return ignoreDone(h.cmd.Process.Kill())
}

func (h *ptyHandle) Wait() (ExitStatus, error) {
	err := h.cmd.Wait()
	st := ExitStatus{Code: -1}
	if ps := h.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is reported through the status, not as a failure.
		err = nil
	}
	return st, err
}

// ignoreDone treats signalling an already-reaped process as success.
func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
