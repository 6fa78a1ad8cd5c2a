// Package git manages the git repositories backing patterns. Local bare repositories
// are written through the object storer directly, so no git binary or transport is
// involved; remote repositories can be cloned into memory for reading.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Client defines the interface for Git operations
type Client interface {
	// InitBare creates a bare repository at dir with one seed commit on DefaultBranch.
	// An existing repository at dir is opened instead.
	InitBare(ctx context.Context, dir string, seed CommitRequest) (*RepositoryInfo, error)

	// Open opens an existing local repository
	Open(ctx context.Context, dir string) (*RepositoryInfo, error)

	// CommitFiles adds a commit with the given files on top of DefaultBranch of a local
	// repository and returns its hash
	CommitFiles(ctx context.Context, req CommitRequest) (string, error)

	// Clone clones a remote repository into memory
	Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error)

	// GetFileContent retrieves the content of a file at HEAD
	GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error)

	// Cleanup releases the memory held by a clone
	Cleanup(ctx context.Context, repoInfo *RepositoryInfo) error
}

// defaultGitClient implements Client using go-git
type defaultGitClient struct{}

// NewDefaultGitClient creates a new defaultGitClient
func NewDefaultGitClient() Client {
	return &defaultGitClient{}
}

// InitBare creates and seeds a bare repository
func (*defaultGitClient) InitBare(_ context.Context, dir string, seed CommitRequest) (*RepositoryInfo, error) {
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch)},
		Bare:        true,
	})
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		slog.Debug("Repository already exists, reusing it", "dir", dir)
		repo, err = git.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository: %w", err)
		}
		return repositoryInfo(repo, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}

	if _, err := commit(repo, seed); err != nil {
		return nil, err
	}
	return repositoryInfo(repo, dir)
}

// Open opens an existing local repository
func (*defaultGitClient) Open(_ context.Context, dir string) (*RepositoryInfo, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repositoryInfo(repo, dir)
}

// CommitFiles commits files to a local repository
func (*defaultGitClient) CommitFiles(_ context.Context, req CommitRequest) (string, error) {
	if len(req.Files) == 0 {
		return "", fmt.Errorf("no files to commit")
	}
	repo, err := git.PlainOpen(req.URL)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	return commit(repo, req)
}

// Clone clones a repository with the given configuration
func (c *defaultGitClient) Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error) {
	cloneOptions := &git.CloneOptions{
		URL:  config.URL,
		Auth: basicAuth(config.Auth),
	}
	if config.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(config.Branch)
		cloneOptions.SingleBranch = true
	}
	if config.Shallow {
		cloneOptions.Depth = 1
	}

	// go-git wants separate filesystems for the storer and the checked out files
	worktreeFs := memfs.New()
	storerFs := memfs.New()
	storerCache := cache.NewObjectLRUDefault()
	objects := filesystem.NewStorage(storerFs, storerCache)

	repo, err := git.CloneContext(ctx, objects, worktreeFs, cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	info, err := repositoryInfo(repo, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to update repository info: %w", err)
	}
	info.storerFilesystem = storerFs
	info.objectCache = storerCache
	return info, nil
}

// GetFileContent retrieves the content of a file from the repository
func (*defaultGitClient) GetFileContent(repoInfo *RepositoryInfo, path string) ([]byte, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	ref, err := repoInfo.Repository.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	head, err := repoInfo.Repository.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}
	tree, err := head.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	file, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return []byte(content), nil
}

// Cleanup drops the in-memory filesystems and object cache of a clone
func (*defaultGitClient) Cleanup(_ context.Context, repoInfo *RepositoryInfo) error {
	if repoInfo == nil || repoInfo.Repository == nil {
		return fmt.Errorf("repository is nil")
	}

	if repoInfo.objectCache != nil {
		repoInfo.objectCache.Clear()
	}
	if worktree, err := repoInfo.Repository.Worktree(); err == nil && worktree.Filesystem != nil {
		_ = util.RemoveAll(worktree.Filesystem, "/")
	}
	if repoInfo.storerFilesystem != nil {
		_ = util.RemoveAll(repoInfo.storerFilesystem, "/")
	}

	repoInfo.objectCache = nil
	repoInfo.storerFilesystem = nil
	repoInfo.Repository = nil
	return nil
}

type treeFile struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// commit writes req.Files on top of the branch head and moves the branch to the new commit
func commit(repo *git.Repository, req CommitRequest) (string, error) {
	branch := plumbing.NewBranchReferenceName(DefaultBranch)
	files := map[string]treeFile{}
	var parents []plumbing.Hash

	ref, err := repo.Reference(branch, true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	case err != nil:
		return "", fmt.Errorf("failed to resolve %s: %w", branch, err)
	default:
		parent, err := repo.CommitObject(ref.Hash())
		if err != nil {
			return "", fmt.Errorf("failed to get commit object: %w", err)
		}
		tree, err := parent.Tree()
		if err != nil {
			return "", fmt.Errorf("failed to get tree: %w", err)
		}
		err = tree.Files().ForEach(func(f *object.File) error {
			files[f.Name] = treeFile{hash: f.Hash, mode: f.Mode}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to list files: %w", err)
		}
		parents = append(parents, parent.Hash)
	}

	for name, content := range req.Files {
		p := path.Clean("/" + name)[1:]
		if p == "" {
			return "", fmt.Errorf("invalid file path %q", name)
		}
		hash, err := writeBlob(repo.Storer, content)
		if err != nil {
			return "", err
		}
		files[p] = treeFile{hash: hash, mode: filemode.Regular}
	}

	treeHash, err := writeTree(repo.Storer, files)
	if err != nil {
		return "", err
	}

	signature := object.Signature{Name: req.Author.Name, Email: req.Author.Email, When: req.Author.When}
	c := &object.Commit{
		Author:       signature,
		Committer:    signature,
		Message:      req.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return "", fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("failed to store commit: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, hash)); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", branch, err)
	}

	slog.Debug("Committed files", "url", req.URL, "commit", hash.String(), "files", len(req.Files))
	return hash.String(), nil
}

func writeBlob(s storer.EncodedObjectStorer, content []byte) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to close blob writer: %w", err)
	}
	return s.SetEncodedObject(obj)
}

// writeTree stores the trees for a flat path listing and returns the root tree hash
func writeTree(s storer.EncodedObjectStorer, files map[string]treeFile) (plumbing.Hash, error) {
	tree := &object.Tree{}
	dirs := map[string]map[string]treeFile{}

	for p, f := range files {
		dir, rest, nested := strings.Cut(p, "/")
		if !nested {
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: p, Mode: f.mode, Hash: f.hash})
			continue
		}
		if dirs[dir] == nil {
			dirs[dir] = map[string]treeFile{}
		}
		dirs[dir][rest] = f
	}
	for dir, children := range dirs {
		hash, err := writeTree(s, children)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: hash})
	}

	// git orders entries as if directory names ended with a slash
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j])
	})

	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	return s.SetEncodedObject(obj)
}

func repositoryInfo(repo *git.Repository, url string) (*RepositoryInfo, error) {
	info := &RepositoryInfo{Repository: repo, RemoteURL: url}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}
	info.Head = ref.Hash().String()
	return info, nil
}

func basicAuth(auth *AuthConfig) transport.AuthMethod {
	if auth == nil || auth.Username == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: auth.Username, Password: auth.Password}
}
