package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/nebula/termhost/internal/terminal"
)

// TerminalSession is one journaled session lifetime. Timestamp is the start
// time and drives retention.
type TerminalSession struct {
	Key       string     `json:"key"`
	SessionID string     `json:"session_id"`
	Shell     string     `json:"shell"`
	Cwd       string     `json:"cwd"`
	PID       int        `json:"pid"`
	Timestamp time.Time  `json:"timestamp"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Journal records terminal session lifetimes in BucketTerminalSessions.
type Journal struct {
	store *Storage
}

// NewJournal returns a journal backed by store.
func NewJournal(store *Storage) *Journal {
	return &Journal{store: store}
}

var _ terminal.Journal = (*Journal)(nil)

// SessionStarted records a new session lifetime under key.
func (j *Journal) SessionStarted(key string, info terminal.SessionInfo) error {
	return j.store.SetJSON(BucketTerminalSessions, key, TerminalSession{
		Key:       key,
		SessionID: info.SessionID,
		Shell:     info.Shell,
		Cwd:       info.Cwd,
		PID:       info.PID,
		Timestamp: info.StartedAt,
	})
}

// SessionEnded completes the record for key. Ends for unknown keys are
// recorded as bare entries so an exit racing its start is not lost.
func (j *Journal) SessionEnded(key string, exitCode int, reason string) error {
	now := time.Now()
	var entry TerminalSession
	err := j.store.Update(BucketTerminalSessions, key, &entry, func() error {
		entry.EndedAt = &now
		entry.ExitCode = &exitCode
		entry.Reason = reason
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return j.store.SetJSON(BucketTerminalSessions, key, TerminalSession{
			Key:       key,
			Timestamp: now,
			EndedAt:   &now,
			ExitCode:  &exitCode,
			Reason:    reason,
		})
	}
	return err
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) Recent(limit int) ([]TerminalSession, error) {
	all, err := j.store.GetAll(BucketTerminalSessions)
	if err != nil {
		return nil, err
	}

	entries := make([]TerminalSession, 0, len(all))
	for _, v := range all {
		var entry TerminalSession
		if err := unmarshalJSON(v, &entry); err == nil {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Timestamp.After(entries[b].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Prune drops entries started more than retention ago.
func (j *Journal) Prune(retention time.Duration) (int, error) {
	return j.store.DeleteOlderThan(BucketTerminalSessions, retention)
}
