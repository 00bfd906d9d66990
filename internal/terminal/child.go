package terminal

import (
	"errors"
	"os"
	"os/exec"
)

// SpawnSpec describes the process attached to a PTY slave.
type SpawnSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Child is a process attached to a PTY slave.
type Child interface {
	Pid() int
	Kill() error
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// ExitCode is -1 until the process is reaped, and for signalled exits.
	ExitCode() int
}

type execChild struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
}

func (s SpawnSpec) command() *exec.Cmd {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	return cmd
}

// startChild starts cmd and reaps it in the background.
func startChild(cmd *exec.Cmd) (*execChild, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &execChild{
		cmd:  cmd,
		done: make(chan struct{}),
		code: -1,
	}
	go c.reap()
	return c, nil
}

func (c *execChild) reap() {
	_ = c.cmd.Wait()
	if c.cmd.ProcessState != nil {
		c.code = c.cmd.ProcessState.ExitCode()
	}
	close(c.done)
}

func (c *execChild) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *execChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (c *execChild) Done() <-chan struct{} {
	return c.done
}

func (c *execChild) ExitCode() int {
	select {
	case <-c.done:
		return c.code
	default:
		return -1
	}
}
