package mirror_git

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var headRefSpec = config.RefSpec("+refs/heads/*:refs/heads/*")

// Mirror maintains bare local clones and reads commit trees out of
// them. Callers serialize access per repository; concurrent git
// operations against one mirror corrupt it.
type Mirror struct{}

func New() *Mirror { return &Mirror{} }

func (m *Mirror) Ensure(ctx context.Context, repo domain.Repository) error {
	r, err := git.PlainOpen(repo.MirrorPath)
	if err != nil {
		// Absent or unopenable. An unopenable mirror is corruption:
		// rebuild from scratch rather than attempting repair.
		if rmErr := os.RemoveAll(repo.MirrorPath); rmErr != nil {
			return fmt.Errorf("remove corrupt mirror %s: %w", repo.Name, rmErr)
		}
		return m.clone(ctx, repo)
	}

	err = r.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{headRefSpec},
		Force:      true,
		Tags:       git.NoTags,
		Prune:      true,
	})
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return fmt.Errorf("fetch %s: %w", repo.Name, err)
}

func (m *Mirror) clone(ctx context.Context, repo domain.Repository) error {
	_, err := git.PlainCloneContext(ctx, repo.MirrorPath, true, &git.CloneOptions{
		URL:  repo.RemoteURL,
		Tags: git.NoTags,
	})
	if err != nil {
		// Leave no partial clone behind; the next pass starts clean.
		_ = os.RemoveAll(repo.MirrorPath)
		return fmt.Errorf("clone %s: %w", repo.Name, err)
	}
	return nil
}

func (m *Mirror) HasPath(ctx context.Context, repo domain.Repository, commitID, path string) (bool, error) {
	tree, _, err := m.commitTree(repo, commitID)
	if err != nil {
		return false, err
	}

	if _, err := tree.FindEntry(path); err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup %s in %s@%s: %w", path, repo.Name, commitID, err)
	}
	return true, nil
}

// Archive writes the commit's tree as a tar stream. Output is
// byte-reproducible for a given commit: entries are sorted by path,
// timestamps come from the committer, and ownership fields are fixed.
func (m *Mirror) Archive(ctx context.Context, repo domain.Repository, commitID string, w io.Writer) error {
	tree, commit, err := m.commitTree(repo, commitID)
	if err != nil {
		return err
	}

	var files []*object.File
	err = tree.Files().ForEach(func(f *object.File) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk tree %s@%s: %w", repo.Name, commitID, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	mtime := commit.Committer.When.UTC()
	tw := tar.NewWriter(w)
	for _, f := range files {
		if err := writeEntry(tw, f, mtime); err != nil {
			return fmt.Errorf("archive %s@%s: %w", repo.Name, commitID, err)
		}
	}
	return tw.Close()
}

func (m *Mirror) commitTree(repo domain.Repository, commitID string) (*object.Tree, *object.Commit, error) {
	r, err := git.PlainOpen(repo.MirrorPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open mirror %s: %w", repo.Name, err)
	}

	commit, err := r.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, nil, fmt.Errorf("commit %s in %s: %w", commitID, repo.Name, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("tree of %s in %s: %w", commitID, repo.Name, err)
	}
	return tree, commit, nil
}

func writeEntry(tw *tar.Writer, f *object.File, mtime time.Time) error {
	hdr := &tar.Header{
		Name:    f.Name,
		ModTime: mtime,
		Uid:     0,
		Gid:     0,
		Uname:   "root",
		Gname:   "root",
		Format:  tar.FormatPAX,
	}

	switch f.Mode {
	case filemode.Symlink:
		target, err := f.Contents()
		if err != nil {
			return fmt.Errorf("symlink target of %s: %w", f.Name, err)
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)
	case filemode.Executable:
		hdr.Mode = 0o755
	default:
		hdr.Mode = 0o644
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = f.Size

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	r, err := f.Reader()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	defer func() { _ = r.Close() }()

	_, err = io.Copy(tw, r)
	return err
}
