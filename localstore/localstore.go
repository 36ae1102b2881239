// Package localstore is the on-disk persisted state an RG or UG keeps
// alongside its driver-backed store: cached block files and the
// in-flight upload metadata that lets a crashed process's partial
// writes be told apart from a live one's (spec §6 "Persisted state
// (RG & UG)").
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/syndicate-storage/syndicate-sub005/errs"
)

// Progress is the lifecycle state of one in-flight block upload.
type Progress string

const (
	ProgressStarted   Progress = "STARTED"
	ProgressCommitted Progress = "COMMITTED"
)

// UploadRecord is the sidecar metadata protobuf-equivalent spec §6
// describes: progress plus the session_id of the process that wrote
// it, so a restarted process can tell its own abandoned work apart
// from a still-running sibling's.
type UploadRecord struct {
	Progress  Progress `json:"progress"`
	SessionID string   `json:"session_id"`
}

// Store roots a gateway's cached block tree and its upload-metadata
// tree, and stamps every record it writes with a session id randomized
// at process start (spec §6).
type Store struct {
	CacheRoot    string
	MetadataRoot string
	SessionID    string
}

// NewStore opens a Store rooted at cacheRoot/metadataRoot, creating
// both directory trees if absent, and mints a fresh session id.
func NewStore(cacheRoot, metadataRoot string) (*Store, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, errs.New("localstore.NewStore", errs.IOError, err)
	}
	if err := os.MkdirAll(metadataRoot, 0o755); err != nil {
		return nil, errs.New("localstore.NewStore", errs.IOError, err)
	}
	return &Store{
		CacheRoot:    cacheRoot,
		MetadataRoot: metadataRoot,
		SessionID:    uuid.New().String(),
	}, nil
}

// BlockDir is the per-file-version directory a block's cache file and
// metadata record both live under: "<fs_path>.<file_version>" (spec
// §6, literal naming scheme).
func BlockDir(fsPath string, fileVersion uint64) string {
	return fmt.Sprintf("%s.%d", fsPath, fileVersion)
}

// BlockName is a block's leaf file name within its BlockDir:
// "<block_id>.<block_version>".
func BlockName(blockID, blockVersion uint64) string {
	return fmt.Sprintf("%d.%d", blockID, blockVersion)
}

// BlockPath returns the cached-block file's full path under the
// store's cache root.
func (s *Store) BlockPath(fsPath string, fileVersion, blockID, blockVersion uint64) string {
	return filepath.Join(s.CacheRoot, BlockDir(fsPath, fileVersion), BlockName(blockID, blockVersion))
}

// MetadataPath returns the in-flight upload record's path under the
// store's metadata root, mirroring the block's own path (spec §6:
// "<gateway_metadata_root>/<fs_path>.<file_version>/<block_id>.<block_version>").
func (s *Store) MetadataPath(fsPath string, fileVersion, blockID, blockVersion uint64) string {
	return filepath.Join(s.MetadataRoot, BlockDir(fsPath, fileVersion), BlockName(blockID, blockVersion))
}

// BeginUpload records a STARTED upload for this store's session before
// any bytes are written, so a crash mid-write leaves evidence behind
// for the next startup's reap pass.
func (s *Store) BeginUpload(fsPath string, fileVersion, blockID, blockVersion uint64) error {
	return s.writeRecord(fsPath, fileVersion, blockID, blockVersion, UploadRecord{Progress: ProgressStarted, SessionID: s.SessionID})
}

// CommitUpload marks an upload COMMITTED once the block has been
// durably written, exempting it from a future reap.
func (s *Store) CommitUpload(fsPath string, fileVersion, blockID, blockVersion uint64) error {
	return s.writeRecord(fsPath, fileVersion, blockID, blockVersion, UploadRecord{Progress: ProgressCommitted, SessionID: s.SessionID})
}

func (s *Store) writeRecord(fsPath string, fileVersion, blockID, blockVersion uint64, rec UploadRecord) error {
	path := s.MetadataPath(fsPath, fileVersion, blockID, blockVersion)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.New("localstore.writeRecord", errs.IOError, err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return errs.New("localstore.writeRecord", errs.IOError, err)
	}
	return writeFileAtomic(path, body)
}

// WriteBlock durably writes a cached block's bytes, replacing any
// prior content at the same path atomically (rename-over-write, so a
// concurrent reader never observes a half-written file).
func (s *Store) WriteBlock(fsPath string, fileVersion, blockID, blockVersion uint64, data []byte) error {
	path := s.BlockPath(fsPath, fileVersion, blockID, blockVersion)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.New("localstore.WriteBlock", errs.IOError, err)
	}
	return writeFileAtomic(path, data)
}

// ReadBlock reads a previously-cached block's bytes.
func (s *Store) ReadBlock(fsPath string, fileVersion, blockID, blockVersion uint64) ([]byte, error) {
	data, err := os.ReadFile(s.BlockPath(fsPath, fileVersion, blockID, blockVersion))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("localstore.ReadBlock", errs.NotFound, err)
		}
		return nil, errs.New("localstore.ReadBlock", errs.IOError, err)
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.New("localstore.writeFileAtomic", errs.IOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.New("localstore.writeFileAtomic", errs.IOError, err)
	}
	return nil
}
