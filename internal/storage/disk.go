package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// walSuffixes name the files SQLite keeps beside a database in WAL mode.
var walSuffixes = []string{"-wal", "-shm"}

// DiskUsageBytes returns the total size in bytes of the given paths: local
// sink directories and the ledger database. Directories are summed
// recursively; a database file also counts its WAL sidecars. Missing paths
// count as 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			for _, suffix := range walSuffixes {
				if side, err := os.Stat(p + suffix); err == nil && !side.IsDir() {
					total += side.Size()
				}
			}
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
