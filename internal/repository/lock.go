package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"
)

// DefaultStaleAfter is how old a lock may get before it can be taken over.
const DefaultStaleAfter = 30 * time.Minute

// ErrSessionLocked is wrapped by LockedError.
var ErrSessionLocked = errors.New("session locked")

// LockInfo is the metadata stored in a session lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Owner     string    `json:"owner"` // "cli" or "http"
	Timestamp time.Time `json:"timestamp"`
}

// LockedError reports a lock held by another live process.
type LockedError struct {
	Info LockInfo
}

func (e *LockedError) Error() string {
	age := time.Since(e.Info.Timestamp).Round(time.Second)
	return fmt.Sprintf("session locked by %s (PID %d, %v ago)", e.Info.Owner, e.Info.PID, age)
}

func (e *LockedError) Unwrap() error {
	return ErrSessionLocked
}

// FileLock is an exclusive flock on a session's lock file.
type FileLock struct {
	path       string
	owner      string
	staleAfter time.Duration
	file       *os.File
}

// NewFileLock creates a new file lock.
func NewFileLock(path, owner string) *FileLock {
	return &FileLock{
		path:       path,
		owner:      owner,
		staleAfter: DefaultStaleAfter,
	}
}

// Acquire takes the lock without blocking, taking over stale locks.
func (l *FileLock) Acquire() error {
	return l.acquire(true)
}

func (l *FileLock) acquire(allowSteal bool) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("warning: failed to close lock file during error handling: %v", closeErr)
		}

		existing, readErr := l.readLockFile()
		if readErr == nil && allowSteal && l.isStale(existing) {
			// Stale lock - remove the file so the next open gets a fresh inode
			_ = os.Remove(l.path)
			return l.acquire(false)
		}
		if readErr == nil {
			return &LockedError{Info: *existing}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.file = file

	hostname, _ := os.Hostname()
	data, _ := json.MarshalIndent(LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Owner:     l.owner,
		Timestamp: time.Now(),
	}, "", "  ")
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock metadata: %w", err)
	}

	return nil
}

// Release releases the lock and removes the lock file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}

	// Release flock (best-effort, log errors)
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		log.Printf("warning: failed to release flock: %v", err)
	}
	if err := l.file.Close(); err != nil {
		log.Printf("warning: failed to close lock file: %v", err)
	}
	l.file = nil

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *FileLock) readLockFile() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isStale reports a lock whose process is gone or that is older than staleAfter.
func (l *FileLock) isStale(info *LockInfo) bool {
	process, err := os.FindProcess(info.PID)
	if err != nil {
		return true
	}

	// On Unix, FindProcess always succeeds, so we need to signal to check
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return true
	}

	return time.Since(info.Timestamp) > l.staleAfter
}
