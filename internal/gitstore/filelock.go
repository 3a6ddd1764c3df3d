package gitstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory exclusive lock on a companion .lock file. The
// lock file itself is never used to carry state (spec.md §9 "File locks").
// No third-party advisory-locking library appears anywhere in the example
// pack, so this is grounded directly on golang.org/x/sys/unix.Flock — a
// thin syscall wrapper, not a hand-rolled locking protocol.
type fileLock struct {
	f *os.File
}

// acquire opens (creating if needed) path and takes a blocking exclusive
// flock on it. The lock is released, and the fd closed, by Unlock.
func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Unlock() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
