package git

import (
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
)

// DefaultBranch is the branch pattern repositories are created with
const DefaultBranch = "main"

// AuthConfig holds HTTP basic credentials for remote repositories
type AuthConfig struct {
	Username string
	Password string
}

// CloneConfig contains configuration for cloning a repository
type CloneConfig struct {
	// URL is the repository URL or local path to clone
	URL string

	// Branch is the specific branch to clone (optional)
	Branch string

	// Shallow limits the clone to the tip commit; such a clone cannot be pushed from
	Shallow bool

	// Auth enables HTTP basic authentication (optional)
	Auth *AuthConfig
}

// Author identifies who made a commit
type Author struct {
	Name  string
	Email string
	When  time.Time
}

// CommitRequest describes files to commit and push to a repository
type CommitRequest struct {
	URL     string
	Message string
	// Files maps slash-separated paths to their new content
	Files  map[string][]byte
	Author Author
	Auth   *AuthConfig
}

// RepositoryInfo contains information about a Git repository
type RepositoryInfo struct {
	// Repository is the go-git repository instance
	Repository *git.Repository

	// Branch is the current branch name
	Branch string

	// RemoteURL is the remote repository URL
	RemoteURL string

	// Head is the hash of the checked out commit
	Head string

	// storerFilesystem holds the in-memory object database; it is released in Cleanup
	storerFilesystem billy.Filesystem

	// objectCache holds decompressed objects and must be cleared in Cleanup
	objectCache cache.Object
}
