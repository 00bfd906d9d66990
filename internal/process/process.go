// Package process inspects and terminates the process trees behind terminal
// sessions.
package process

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shirou/gopsutil/v3/process"
)

// Info describes a session's shell process.
type Info struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	MemRSS     uint64  `json:"mem_rss"`
	NumThreads int32   `json:"num_threads"`
	CreateTime int64   `json:"create_time"`
	Children   int     `json:"children"`
}

// Inspect returns a snapshot of pid. Fields the platform cannot report are
// left zero.
func Inspect(pid int32) (Info, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Info{}, fmt.Errorf("process not found: %w", err)
	}

	info := Info{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if status, err := p.Status(); err == nil && len(status) > 0 {
		info.Status = status[0]
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpuPercent
	}
	if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
		info.MemRSS = memInfo.RSS
	}
	if numThreads, err := p.NumThreads(); err == nil {
		info.NumThreads = numThreads
	}
	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = createTime
	}
	if descendants, err := Descendants(pid); err == nil {
		info.Children = len(descendants)
	}
	return info, nil
}

// Descendants returns every transitive child of pid, parents before children.
func Descendants(pid int32) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to get processes: %w", err)
	}

	children := make(map[int32][]int32)
	for _, p := range procs {
		if ppid, err := p.Ppid(); err == nil && ppid != p.Pid {
			children[ppid] = append(children[ppid], p.Pid)
		}
	}

	var result []int32
	queue := []int32{pid}
	seen := map[int32]bool{pid: true}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		kids := children[next]
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		for _, kid := range kids {
			if seen[kid] {
				continue
			}
			seen[kid] = true
			result = append(result, kid)
			queue = append(queue, kid)
		}
	}
	return result, nil
}

// KillDescendants force-kills every descendant of pid, deepest first, so
// background jobs do not outlive their shell holding the PTY open. pid itself
// is left alone. All descendants are attempted; errors are joined.
func KillDescendants(pid int32) error {
	if pid <= 1 || pid == int32(os.Getpid()) {
		return fmt.Errorf("cannot kill protected process tree %d", pid)
	}

	pids, err := Descendants(pid)
	if err != nil {
		return err
	}

	var errs []error
	for i := len(pids) - 1; i >= 0; i-- {
		p, err := process.NewProcess(pids[i])
		if err != nil {
			// Already gone.
			continue
		}
		if err := p.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", pids[i], err))
		}
	}
	return errors.Join(errs...)
}
