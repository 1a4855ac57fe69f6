package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked reports that another process is already running against the ledger.
var ErrLocked = errors.New("ledger is locked by another run")

// Lock is an exclusive advisory lock held by the process running the pipeline.
type Lock struct {
	lock *flock.Flock
}

// LockPath returns the lock file guarding a ledger database.
func LockPath(ledgerPath string) string {
	return ledgerPath + ".lock"
}

// AcquireLock takes the run lock for ledgerPath without blocking.
func AcquireLock(ledgerPath string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	fl := flock.New(LockPath(ledgerPath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, fl.Path())
	}
	return &Lock{lock: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
