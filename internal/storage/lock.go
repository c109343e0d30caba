package storage

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errLockBusy = errors.New("lock busy")

// FileLock is an exclusive flock on a lock file. It is not reentrant and
// must not be shared between goroutines without external serialization.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock on path. The file is created on first use and
// left in place afterwards.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the lock, retrying with backoff while another process holds
// it, until ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := l.tryLock()
		if err != nil && !errors.Is(err, errLockBusy) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() bool {
	return l.tryLock() == nil
}

func (l *FileLock) tryLock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return errLockBusy
		}
		return err
	}
	l.file = f
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
