package archive_fs

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	objectsDir = "objects"
	tmpDir     = "tmp"
)

// Store is a content-addressed snapshot store keyed by commit id.
// Blobs are zstd-compressed tar archives at objects/<first2>/<commit>.tar.zst
// with the blake3 digest of the uncompressed tar stream in a sidecar.
// Writes are staged under tmp/ and published by rename, so a crashed
// write never leaves a partial blob behind a valid key.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, objectsDir), filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) blobPath(commitID string) string {
	return filepath.Join(s.root, objectsDir, commitID[:2], commitID+".tar.zst")
}

func (s *Store) digestPath(commitID string) string {
	return s.blobPath(commitID) + ".b3"
}

func (s *Store) Lookup(commitID string) (domain.Snapshot, bool, error) {
	if len(commitID) < 2 {
		return domain.Snapshot{}, false, fmt.Errorf("malformed commit id %q", commitID)
	}

	blob := s.blobPath(commitID)
	if _, err := os.Stat(blob); err != nil {
		if os.IsNotExist(err) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, err
	}

	digest, err := os.ReadFile(s.digestPath(commitID))
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("read digest for %s: %w", commitID, err)
	}

	return domain.Snapshot{
		CommitID:  commitID,
		Digest:    string(digest),
		Location:  blob,
		Buildable: true,
	}, true, nil
}

// Publish stores the archive produced by write. If the commit is
// already stored, write is never called and the existing snapshot is
// returned; concurrent publishers for different commits never touch
// the same paths.
func (s *Store) Publish(commitID string, write func(io.Writer) error) (domain.Snapshot, error) {
	if snap, ok, err := s.Lookup(commitID); err != nil {
		return domain.Snapshot{}, err
	} else if ok {
		return snap, nil
	}

	staged, err := os.CreateTemp(filepath.Join(s.root, tmpDir), commitID+".*.partial")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("stage archive for %s: %w", commitID, err)
	}
	stagedPath := staged.Name()
	defer func() {
		_ = staged.Close()
		_ = os.Remove(stagedPath)
	}()

	zw, err := zstd.NewWriter(staged, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return domain.Snapshot{}, err
	}

	// Digest the uncompressed tar stream while compressing it, so the
	// digest is independent of the compression container.
	hasher := blake3.New()
	if err := write(io.MultiWriter(hasher, zw)); err != nil {
		_ = zw.Close()
		return domain.Snapshot{}, fmt.Errorf("write archive for %s: %w", commitID, err)
	}
	if err := zw.Close(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("compress archive for %s: %w", commitID, err)
	}
	if err := staged.Sync(); err != nil {
		return domain.Snapshot{}, err
	}
	if err := staged.Close(); err != nil {
		return domain.Snapshot{}, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))

	blob := s.blobPath(commitID)
	if err := os.MkdirAll(filepath.Dir(blob), 0o755); err != nil {
		return domain.Snapshot{}, err
	}
	if err := os.WriteFile(s.digestPath(commitID), []byte(digest), 0o644); err != nil {
		return domain.Snapshot{}, fmt.Errorf("publish digest for %s: %w", commitID, err)
	}
	if err := os.Rename(stagedPath, blob); err != nil {
		_ = os.Remove(s.digestPath(commitID))
		return domain.Snapshot{}, fmt.Errorf("publish archive for %s: %w", commitID, err)
	}

	return domain.Snapshot{
		CommitID:  commitID,
		Digest:    digest,
		Location:  blob,
		Buildable: true,
	}, nil
}
