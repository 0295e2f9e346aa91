//go:build unix

package session

import (
	"encoding/json"
	"io"
	"os"
	"syscall"
)

// lockedFile opens path for read-write (creating it if needed) and
// blocks until it can take an exclusive advisory lock, matching the
// original engine's portalocker.LOCK_EX (concurrent writers wait rather
// than fail immediately, unlike AleutianLocal's non-blocking LOCK_NB).
func lockedFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}

func readLocked(path string, out interface{}) error {
	f, err := lockedFile(path)
	if err != nil {
		return err
	}
	defer unlock(f)

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func writeLocked(path string, v interface{}) error {
	f, err := lockedFile(path)
	if err != nil {
		return err
	}
	defer unlock(f)

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = f.Write(raw)
	return err
}

func updateLocked(path string, mutate func(raw []byte) ([]byte, error)) error {
	f, err := lockedFile(path)
	if err != nil {
		return err
	}
	defer unlock(f)

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	next, err := mutate(raw)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = f.Write(next)
	return err
}
