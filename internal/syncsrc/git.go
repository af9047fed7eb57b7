package syncsrc

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

// gitConfig is the source selector for github and azure_devops.
type gitConfig struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
	// Path restricts the mirror to a subtree of the repository.
	Path     string `json:"path"`
	Token    string `json:"token"`
	Username string `json:"username"`
}

// gitProvider serves both git hosts; only the default auth username
// differs.
type gitProvider struct {
	name string
}

var _ Provider = (*gitProvider)(nil)

func newGitProvider(name string) *gitProvider {
	return &gitProvider{name: name}
}

func (p *gitProvider) Name() string { return p.name }

func (p *gitProvider) parse(src *store.SyncSource) (*gitConfig, error) {
	var cfg gitConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse git source config")
	}
	if cfg.RepoURL == "" {
		return nil, errors.New(errors.KindProviderFatal, "git source requires repo_url")
	}
	return &cfg, nil
}

func (p *gitProvider) auth(cfg *gitConfig) transport.AuthMethod {
	if cfg.Token == "" {
		return nil
	}
	user := cfg.Username
	if user == "" {
		if p.name == ProviderAzureDevOps {
			user = "git"
		} else {
			user = "x-access-token"
		}
	}
	return &githttp.BasicAuth{Username: user, Password: cfg.Token}
}

// Authorize lists remote refs; a rejected credential is fatal for git
// tokens since there is nothing to refresh.
func (p *gitProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	_, err = p.remoteRefs(ctx, cfg)
	return err
}

func (p *gitProvider) remoteRefs(ctx context.Context, cfg *gitConfig) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{cfg.RepoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: p.auth(cfg)})
	if err != nil {
		if err == transport.ErrAuthenticationRequired || err == transport.ErrAuthorizationFailed {
			return nil, errors.Wrap(err, errors.KindProviderAuthRequired, "git credentials rejected")
		}
		return nil, errors.Wrap(err, errors.KindProviderTransient, "list remote refs")
	}
	return refs, nil
}

// ListBranches enumerates remote branch names, for the source-setup UI.
func ListBranches(ctx context.Context, repoURL, username, token string) ([]string, error) {
	if repoURL == "" {
		return nil, errors.New(errors.KindInvalidPath, "repo_url is required")
	}
	p := newGitProvider(ProviderGitHub)
	refs, err := p.remoteRefs(ctx, &gitConfig{RepoURL: repoURL, Username: username, Token: token})
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// resolveBranch picks the configured branch, or main/master when the
// config leaves it empty.
func resolveBranch(refs []*plumbing.Reference, configured string) (string, plumbing.Hash, error) {
	heads := make(map[string]plumbing.Hash)
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			heads[ref.Name().Short()] = ref.Hash()
		}
	}
	candidates := []string{configured}
	if configured == "" {
		candidates = []string{"main", "master"}
	}
	for _, c := range candidates {
		if hash, ok := heads[c]; ok {
			return c, hash, nil
		}
	}
	return "", plumbing.ZeroHash, errors.Newf(errors.KindProviderFatal,
		"branch %q not found on remote", configured)
}

// Plan shallow-clones the branch into a temp checkout and lists the
// subtree. The branch head hash is the sync cursor: an unchanged head
// skips the clone entirely.
func (p *gitProvider) Plan(ctx context.Context, src *store.SyncSource, cursor string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	refs, err := p.remoteRefs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	branch, head, err := resolveBranch(refs, cfg.Branch)
	if err != nil {
		return nil, err
	}
	if cursor != "" && cursor == head.String() {
		return &Listing{Cursor: cursor, UpToDate: true}, nil
	}

	dir, err := os.MkdirTemp("", "lodestone-git-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "create checkout dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           cfg.RepoURL,
		Auth:          p.auth(cfg),
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, errors.KindProviderTransient, "clone "+cfg.RepoURL)
	}

	files, err := listCheckout(dir, cfg.Path)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &Listing{Files: files, Cursor: head.String(), Close: cleanup}, nil
}

// listCheckout walks the checkout subtree, skipping the .git metadata.
func listCheckout(dir, subPath string) ([]RemoteFile, error) {
	base := dir
	if subPath != "" {
		base = filepath.Join(dir, filepath.FromSlash(subPath))
	}
	info, err := os.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.KindProviderFatal, "path %q not found in repository", subPath)
		}
		return nil, errors.Wrap(err, errors.KindInternal, "stat checkout path")
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.KindProviderFatal, "path %q is not a directory", subPath)
	}

	var files []RemoteFile
	err = filepath.WalkDir(base, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(base, abs)
		if relErr != nil {
			return nil
		}
		local := abs
		files = append(files, RemoteFile{
			Path:       filepath.ToSlash(rel),
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
			Fetch: func(context.Context) (io.ReadCloser, error) {
				return os.Open(local)
			},
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "walk checkout")
	}
	return files, nil
}
