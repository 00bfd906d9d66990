//go:build windows

package terminal

import (
	"errors"
	"io"
	"os"
	"sync"
)

// nativeAllocator on Windows attaches the shell to plain pipes. Output is
// merged from stdout and stderr and resize is a no-op.
type nativeAllocator struct{}

func (nativeAllocator) Open(rows, cols uint16) (Master, Slave, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, nil, err
	}

	master := &pipeMaster{stdin: stdinW, stdout: outR}
	slave := &pipeSlave{stdin: stdinR, stdout: outW}
	return master, slave, nil
}

type pipeMaster struct {
	stdin  *os.File
	stdout *os.File

	mu     sync.Mutex
	cloned bool
}

func (m *pipeMaster) Resize(rows, cols uint16) error {
	// Windows pipes don't support resize
	return nil
}

// CloneReader hands out the output pipe; it can be taken only once.
func (m *pipeMaster) CloneReader() (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cloned {
		return nil, errors.New("output reader already taken")
	}
	m.cloned = true
	return m.stdout, nil
}

func (m *pipeMaster) TakeWriter() (io.Writer, error) {
	return m.stdin, nil
}

func (m *pipeMaster) Close() error {
	m.mu.Lock()
	if !m.cloned {
		m.stdout.Close()
	}
	m.mu.Unlock()
	return m.stdin.Close()
}

type pipeSlave struct {
	stdin  *os.File
	stdout *os.File
}

func (s *pipeSlave) Spawn(spec SpawnSpec) (Child, error) {
	cmd := spec.command()
	cmd.Stdin = s.stdin
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stdout

	child, err := startChild(cmd)
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (s *pipeSlave) Close() error {
	s.stdin.Close()
	return s.stdout.Close()
}
