package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix     = "memory-"
	backupSuffix     = ".json"
	backupTimeLayout = "20060102T150405"
)

// Backup loads the persisted record from st and writes a timestamped copy into
// dir, then removes the oldest copies beyond keep (keep <= 0 keeps all).
// It only reads from st.
func Backup(ctx context.Context, st Store, dir string, keep int, now time.Time) (string, error) {
	if st == nil {
		return "", errors.New("backup: no store")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", errors.New("backup: dir is required")
	}
	r, err := st.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: load: %w", err)
	}
	b, err := Encode(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := backupPrefix + now.UTC().Format(backupTimeLayout) + backupSuffix
	dst := filepath.Join(dir, name)
	if err := WriteFileAtomic(dst, b, 0o600); err != nil {
		return "", fmt.Errorf("backup: write: %w", err)
	}
	if keep > 0 {
		if err := pruneBackups(dir, keep); err != nil {
			return dst, fmt.Errorf("backup: prune: %w", err)
		}
	}
	return dst, nil
}

// ListBackups returns backup file names in dir, oldest first.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, backupPrefix) || !strings.HasSuffix(n, backupSuffix) {
			continue
		}
		names = append(names, n)
	}
	// The timestamp layout sorts lexically.
	sort.Strings(names)
	return names, nil
}

func pruneBackups(dir string, keep int) error {
	names, err := ListBackups(dir)
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}
	var errs []error
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
