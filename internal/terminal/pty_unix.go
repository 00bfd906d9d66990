//go:build !windows

package terminal

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/creack/pty"
)

type nativeAllocator struct{}

// Open allocates a PTY pair sized rows x cols.
func (nativeAllocator) Open(rows, cols uint16) (Master, Slave, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, nil, err
	}

	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, nil, fmt.Errorf("set initial size: %w", err)
	}

	return &unixMaster{ptmx: ptmx}, &unixSlave{tty: tty}, nil
}

type unixMaster struct {
	ptmx *os.File
}

func (m *unixMaster) Resize(rows, cols uint16) error {
	return pty.Setsize(m.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// CloneReader duplicates the master descriptor so the output pump never
// shares a handle with the writer.
func (m *unixMaster) CloneReader() (io.ReadCloser, error) {
	fd, err := syscall.Dup(int(m.ptmx.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dup master: %w", err)
	}
	syscall.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), m.ptmx.Name()), nil
}

func (m *unixMaster) TakeWriter() (io.Writer, error) {
	return m.ptmx, nil
}

func (m *unixMaster) Close() error {
	return m.ptmx.Close()
}

type unixSlave struct {
	tty *os.File
}

// Spawn starts the process as a session leader with the slave as its
// controlling terminal.
func (s *unixSlave) Spawn(spec SpawnSpec) (Child, error) {
	cmd := spec.command()
	cmd.Stdin = s.tty
	cmd.Stdout = s.tty
	cmd.Stderr = s.tty
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	child, err := startChild(cmd)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Close releases the parent's copy of the slave. Once the child exits the
// master reports EOF.
func (s *unixSlave) Close() error {
	return s.tty.Close()
}
