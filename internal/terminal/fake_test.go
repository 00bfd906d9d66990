package terminal

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

// fakeAllocator hands out in-memory PTY pairs. Output written with
// fakeMaster.Output is read by the session's pump; killing the child ends it.
type fakeAllocator struct {
	mu       sync.Mutex
	openErr  error
	spawnErr error
	killErr  error
	nextPID  int
	masters  []*fakeMaster
	children []*fakeChild
	specs    []SpawnSpec
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{nextPID: 1000}
}

func (a *fakeAllocator) Open(rows, cols uint16) (Master, Slave, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return nil, nil, a.openErr
	}
	m := &fakeMaster{rows: rows, cols: cols, out: newFakeOutput()}
	a.masters = append(a.masters, m)
	return m, &fakeSlave{alloc: a, master: m}, nil
}

func (a *fakeAllocator) master(i int) *fakeMaster {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.masters[i]
}

func (a *fakeAllocator) child(i int) *fakeChild {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.children[i]
}

func (a *fakeAllocator) spec(i int) SpawnSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.specs[i]
}

func (a *fakeAllocator) opened() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.masters)
}

type fakeMaster struct {
	mu        sync.Mutex
	rows      uint16
	cols      uint16
	resizeErr error
	input     bytes.Buffer
	closed    bool

	out *fakeOutput
}

func (m *fakeMaster) Resize(rows, cols uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resizeErr != nil {
		return m.resizeErr
	}
	m.rows, m.cols = rows, cols
	return nil
}

func (m *fakeMaster) CloneReader() (io.ReadCloser, error) {
	return m.out, nil
}

func (m *fakeMaster) TakeWriter() (io.Writer, error) {
	return fakeWriter{m}, nil
}

func (m *fakeMaster) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Output queues b for the session's pump without waiting for it to be read.
func (m *fakeMaster) Output(b []byte) {
	m.out.write(b)
}

func (m *fakeMaster) Input() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input.String()
}

func (m *fakeMaster) Size() (uint16, uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows, m.cols
}

func (m *fakeMaster) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeOutput is the child side of a fake PTY: writes are buffered, reads
// block until data arrives or the child hangs up. hold pauses the reader.
type fakeOutput struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	hung   bool
	held   bool
	closed bool
}

func newFakeOutput() *fakeOutput {
	o := &fakeOutput{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *fakeOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.closed && (o.held || (o.buf.Len() == 0 && !o.hung)) {
		o.cond.Wait()
	}
	if o.closed {
		return 0, os.ErrClosed
	}
	if o.buf.Len() == 0 {
		return 0, io.EOF
	}
	return o.buf.Read(p)
}

// Close is called by the pump once it is done reading.
func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Broadcast()
	return nil
}

func (o *fakeOutput) write(b []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Write(b)
	o.cond.Broadcast()
}

func (o *fakeOutput) hangup() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hung = true
	o.cond.Broadcast()
}

func (o *fakeOutput) hold(held bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.held = held
	o.cond.Broadcast()
}

// drained reports whether the pump has read everything and let go.
func (o *fakeOutput) drained() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed && o.buf.Len() == 0
}

type fakeWriter struct{ m *fakeMaster }

func (w fakeWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.closed {
		return 0, errors.New("write on closed pty")
	}
	return w.m.input.Write(p)
}

type fakeSlave struct {
	alloc  *fakeAllocator
	master *fakeMaster
}

func (s *fakeSlave) Spawn(spec SpawnSpec) (Child, error) {
	a := s.alloc
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spawnErr != nil {
		return nil, a.spawnErr
	}
	a.nextPID++
	c := &fakeChild{
		pid:     a.nextPID,
		killErr: a.killErr,
		master:  s.master,
		done:    make(chan struct{}),
		code:    -1,
	}
	a.children = append(a.children, c)
	a.specs = append(a.specs, spec)
	return c, nil
}

func (s *fakeSlave) Close() error { return nil }

type fakeChild struct {
	pid     int
	killErr error
	master  *fakeMaster

	mu     sync.Mutex
	killed bool
	once   sync.Once
	done   chan struct{}
	code   int
}

func (c *fakeChild) Pid() int { return c.pid }

// Kill ends the child unless killErr is set, in which case the process is
// left running as a real failed kill would.
func (c *fakeChild) Kill() error {
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()
	if c.killErr != nil {
		return c.killErr
	}
	c.Exit(-1)
	return nil
}

// Exit simulates the shell exiting with code and closing its side of the PTY.
func (c *fakeChild) Exit(code int) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code = code
		c.mu.Unlock()
		close(c.done)
		c.master.out.hangup()
	})
}

func (c *fakeChild) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

func (c *fakeChild) Done() <-chan struct{} { return c.done }

func (c *fakeChild) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// recorder captures emitted events in order.
type recorder struct {
	mu    sync.Mutex
	data  []DataEvent
	exits []ExitEvent
	order []string
}

func (r *recorder) EmitData(e DataEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, e)
	r.order = append(r.order, "data:"+e.SessionID)
}

func (r *recorder) EmitExit(e ExitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, e)
	r.order = append(r.order, "exit:"+e.SessionID)
}

func (r *recorder) output(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, e := range r.data {
		if e.SessionID == sessionID {
			sb.WriteString(e.Data)
		}
	}
	return sb.String()
}

func (r *recorder) exitsFor(sessionID string) []ExitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ExitEvent
	for _, e := range r.exits {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) exitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exits)
}

func (r *recorder) dataCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

type journalEntry struct {
	key      string
	info     SessionInfo
	ended    bool
	exitCode int
	reason   string
}

// memJournal is an in-memory Journal.
type memJournal struct {
	mu      sync.Mutex
	entries map[string]*journalEntry
	order   []string
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[string]*journalEntry)}
}

func (j *memJournal) SessionStarted(key string, info SessionInfo) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key] = &journalEntry{key: key, info: info}
	j.order = append(j.order, key)
	return nil
}

func (j *memJournal) SessionEnded(key string, exitCode int, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[key]
	if !ok {
		e = &journalEntry{key: key}
		j.entries[key] = e
	}
	e.ended, e.exitCode, e.reason = true, exitCode, reason
	return nil
}

func (j *memJournal) snapshot() []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journalEntry, 0, len(j.order))
	for _, k := range j.order {
		out = append(out, *j.entries[k])
	}
	return out
}
