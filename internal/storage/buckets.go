package storage

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
const (
	BucketConfig           = "config"
	BucketTerminalSessions = "terminal_sessions"
)

// AllBuckets returns all bucket names
var AllBuckets = []string{
	BucketConfig,
	BucketTerminalSessions,
}

// ErrNotFound is returned by GetJSON and Update for a missing key.
var ErrNotFound = errors.New("key not found")

// initBuckets creates all required buckets
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range AllBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}
