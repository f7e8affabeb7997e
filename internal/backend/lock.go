package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lodestone-search/lodestone/pkg/errors"
)

const lockFileName = "lock"

// Lock is the single-writer guard: a lock file created exclusively in the
// database directory, removed on release. The 0666 creation mode leaves the
// effective permissions to the process umask.
type Lock struct {
	path     string
	released bool
}

// AcquireLock takes the writer lock for dir, raising DatabaseLocked when
// another writer already holds it.
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Newf(errors.ErrDatabaseLocked, "%s", dir)
		}
		return nil, errors.Newf(errors.ErrDatabaseIO, "creating lock file: %v", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &Lock{path: path}, nil
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Newf(errors.ErrDatabaseIO, "removing lock file: %v", err)
	}
	return nil
}
