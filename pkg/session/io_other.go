//go:build windows

package session

import (
	"encoding/json"
	"io"
	"os"
)

// lockedFile is a stub on Windows: it opens the file but does not take
// an OS-level lock. Progress files are per-session, so only concurrent
// use from multiple processes on the same sid is at risk; on this
// platform that race is left unguarded pending a LockFileEx port.
func lockedFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

func unlock(f *os.File) {
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
