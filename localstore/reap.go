package localstore

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

// ReapStartup walks the metadata tree and deletes every upload record
// (and its would-be block file) left STARTED by a different process
// generation than this one — spec §6's "any metadata whose session_id
// differs from the current process's session_id and is not COMMITTED
// is reaped on startup." It returns the number of records reaped.
func (s *Store) ReapStartup() (int, error) {
	reaped := 0
	err := filepath.WalkDir(s.MetadataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		body, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var rec UploadRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil
		}
		if rec.Progress == ProgressCommitted || rec.SessionID == s.SessionID {
			return nil
		}

		rel, err := filepath.Rel(s.MetadataRoot, path)
		if err != nil {
			return nil
		}
		_ = os.Remove(path)
		_ = os.Remove(filepath.Join(s.CacheRoot, rel))
		reaped++
		return nil
	})
	if err != nil {
		return reaped, errs.New("localstore.ReapStartup", errs.IOError, err)
	}
	return reaped, nil
}
