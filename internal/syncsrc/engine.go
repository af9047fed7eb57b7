package syncsrc

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/lodekb/lodestone/internal/bus"
	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
	"github.com/lodekb/lodestone/internal/validation"
)

// Options configures the sync engine.
type Options struct {
	// Root is the managed root directory.
	Root string
	// Interval between scheduled pulls. Zero disables the scheduler.
	Interval time.Duration
	// RunDeadline bounds one sync run. Default: 15m.
	RunDeadline time.Duration
}

func (o Options) withDefaults() Options {
	if o.RunDeadline <= 0 {
		o.RunDeadline = 15 * time.Minute
	}
	return o
}

// Engine mirrors remote sources into the managed tree. Sync is
// single-flight per folder: concurrent triggers collapse.
type Engine struct {
	store     store.MetadataStore
	events    *bus.Bus
	opts      Options
	logger    *slog.Logger
	providers map[string]Provider

	mu      sync.Mutex
	running map[string]bool
}

// NewEngine creates a sync engine with all providers registered.
func NewEngine(st store.MetadataStore, events *bus.Bus, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:     st,
		events:    events,
		opts:      opts.withDefaults(),
		logger:    logger,
		providers: make(map[string]Provider),
		running:   make(map[string]bool),
	}
	for _, p := range []Provider{
		newGitProvider(ProviderGitHub),
		newGitProvider(ProviderAzureDevOps),
		newDriveProvider(),
		newSharePointProvider(),
		newBoxProvider(),
		newJiraProvider(),
		newConfluenceProvider(),
	} {
		e.Register(p)
	}
	return e
}

// Register installs a provider, replacing any with the same name.
func (e *Engine) Register(p Provider) {
	e.providers[p.Name()] = p
}

// HasProvider reports whether a provider name is registered.
func (e *Engine) HasProvider(name string) bool {
	_, ok := e.providers[name]
	return ok
}

// Run drives the scheduler until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.syncAll(ctx)
		}
	}
}

func (e *Engine) syncAll(ctx context.Context) {
	sources, err := e.store.ListSyncSources(ctx)
	if err != nil {
		e.logger.Warn("sync source sweep failed", "error", err)
		return
	}
	for _, src := range sources {
		go func(folder string) {
			if err := e.Sync(ctx, folder); err != nil && !errors.IsCancelled(err) {
				e.logger.Warn("scheduled sync failed", "folder", folder, "error", err)
			}
		}(src.FolderPath)
	}
}

// Sync runs one pull for a folder. A run already in flight makes this
// a no-op.
func (e *Engine) Sync(ctx context.Context, folderPath string) error {
	e.mu.Lock()
	if e.running[folderPath] {
		e.mu.Unlock()
		return nil
	}
	e.running[folderPath] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, folderPath)
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.opts.RunDeadline)
	defer cancel()

	err := e.run(runCtx, folderPath)
	switch {
	case err == nil:
		return nil
	case errors.IsCancelled(err):
		// Partial state stays on disk; observer and indexer reconcile.
		e.setStatus(folderPath, store.SyncIdle, "")
		return err
	default:
		authRequired := errors.KindOf(err) == errors.KindProviderAuthRequired
		e.setStatus(folderPath, store.SyncError, err.Error())
		e.publish(bus.SyncStatus{
			Path: folderPath, Status: string(store.SyncError),
			Error: err.Error(), AuthRequired: authRequired,
		})
		return err
	}
}

func (e *Engine) run(ctx context.Context, folderPath string) error {
	src, err := e.store.GetSyncSource(ctx, folderPath)
	if err != nil {
		return err
	}
	provider, ok := e.providers[src.Provider]
	if !ok {
		return errors.Newf(errors.KindProviderFatal, "unknown provider %q", src.Provider)
	}

	e.setStatus(folderPath, store.SyncSyncing, "")
	e.publish(bus.SyncStatus{Path: folderPath, Status: string(store.SyncSyncing)})

	if err := provider.Authorize(ctx, src); err != nil {
		return err
	}

	cursor, err := e.store.GetState(ctx, cursorKey(folderPath))
	if err != nil && errors.KindOf(err) != errors.KindNotFound {
		return err
	}

	listing, err := provider.Plan(ctx, src, cursor)
	if err != nil {
		return err
	}
	if listing.Close != nil {
		defer listing.Close()
	}

	if !listing.UpToDate {
		if err := e.apply(ctx, folderPath, listing.Files); err != nil {
			return err
		}
	}

	if listing.Cursor != "" {
		if err := e.store.SetState(ctx, cursorKey(folderPath), listing.Cursor); err != nil {
			return err
		}
	}
	if err := e.setStatusErr(ctx, folderPath, store.SyncSynced, ""); err != nil {
		return err
	}
	e.publish(bus.SyncStatus{Path: folderPath, Status: string(store.SyncSynced)})
	return nil
}

// apply mirrors the listing to disk: download new and changed files
// with atomic writes, then delete local files absent on the remote and
// prune empty directories. Cancellation is checked between files.
func (e *Engine) apply(ctx context.Context, folderPath string, files []RemoteFile) error {
	localRoot := filepath.Join(e.opts.Root, filepath.FromSlash(folderPath))
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return errors.Wrap(err, errors.KindPermissionDenied, "create sync folder")
	}

	remote := make(map[string]struct{}, len(files))
	for _, rf := range files {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.KindCancelled, "sync apply")
		}
		rel, err := validation.NormalizePath(rf.Path)
		if err != nil || rel == "" {
			e.logger.Warn("skipping remote file with bad path", "path", rf.Path)
			continue
		}
		remote[rel] = struct{}{}

		local := filepath.Join(localRoot, filepath.FromSlash(rel))
		if unchanged(local, rf) {
			continue
		}
		if err := e.download(ctx, local, rf); err != nil {
			return errors.Wrap(err, errors.KindProviderTransient, "download "+rel)
		}
	}

	if err := e.deleteAbsent(localRoot, remote); err != nil {
		return err
	}
	pruneEmptyDirs(localRoot)
	return nil
}

// unchanged reports whether the local copy already matches the remote
// file, by digest when the provider supplies one, by size otherwise.
func unchanged(local string, rf RemoteFile) bool {
	fi, err := os.Lstat(local)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	if rf.ContentHash == "" {
		return fi.Size() == rf.Size
	}
	h := newDigest(rf.HashAlgo)
	if h == nil {
		return fi.Size() == rf.Size
	}
	f, err := os.Open(local)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), rf.ContentHash)
}

func newDigest(algo string) hash.Hash {
	switch algo {
	case "sha256":
		return sha256.New()
	case "sha1":
		return sha1.New()
	case "md5":
		return md5.New()
	default:
		return nil
	}
}

// download streams the remote file to a temp file beside the target
// and renames it into place, keeping hash-based change detection
// honest for the observer.
func (e *Engine) download(ctx context.Context, local string, rf RemoteFile) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	body, err := rf.Fetch(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".sync-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), local)
}

func (e *Engine) deleteAbsent(localRoot string, remote map[string]struct{}) error {
	return filepath.WalkDir(localRoot, func(abs string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(localRoot, abs)
		if relErr != nil {
			return nil
		}
		logical := filepath.ToSlash(rel)
		if validation.IsIgnored(logical) {
			return nil
		}
		if _, ok := remote[logical]; !ok {
			if rmErr := os.Remove(abs); rmErr != nil {
				return errors.Wrap(rmErr, errors.KindPermissionDenied, "delete "+logical)
			}
		}
		return nil
	})
}

// pruneEmptyDirs removes directories left empty by mirror deletes,
// deepest first. The root itself stays.
func pruneEmptyDirs(localRoot string) {
	var dirs []string
	_ = filepath.WalkDir(localRoot, func(abs string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && abs != localRoot {
			dirs = append(dirs, abs)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
}

// AuthURL builds the provider's consent URL for a folder's source. The
// folder path doubles as the OAuth state parameter.
func (e *Engine) AuthURL(ctx context.Context, folderPath, redirectURI string) (string, error) {
	conf, err := e.oauthConfig(ctx, folderPath, redirectURI)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(folderPath, oauth2.AccessTypeOffline), nil
}

// ExchangeCode trades an authorization code for a token and stores it
// on the folder's source.
func (e *Engine) ExchangeCode(ctx context.Context, folderPath, redirectURI, code string) error {
	conf, err := e.oauthConfig(ctx, folderPath, redirectURI)
	if err != nil {
		return err
	}
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, errors.KindProviderAuthRequired, "exchange authorization code")
	}
	return e.CompleteAuth(ctx, folderPath, token)
}

func (e *Engine) oauthConfig(ctx context.Context, folderPath, redirectURI string) (*oauth2.Config, error) {
	src, err := e.store.GetSyncSource(ctx, folderPath)
	if err != nil {
		return nil, err
	}
	endpoint, ok := endpointFor(src.Provider)
	if !ok {
		return nil, errors.Newf(errors.KindProviderFatal, "provider %q does not use OAuth", src.Provider)
	}
	var cfg struct {
		OAuth oauthCredentials `json:"oauth"`
	}
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse source config")
	}
	if cfg.OAuth.ClientID == "" {
		return nil, errors.New(errors.KindProviderFatal, "source config has no oauth client_id")
	}
	return &oauth2.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       providerScopes[src.Provider],
	}, nil
}

// CompleteAuth installs a freshly obtained OAuth token into a folder's
// sync source and announces the connection. The OAuth browser flow is
// an external collaborator; only its completed token arrives here.
func (e *Engine) CompleteAuth(ctx context.Context, folderPath string, token *oauth2.Token) error {
	src, err := e.store.GetSyncSource(ctx, folderPath)
	if err != nil {
		return err
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return errors.Wrap(err, errors.KindProviderFatal, "parse source config")
	}
	var oauthBlob map[string]json.RawMessage
	if raw, ok := cfg["oauth"]; ok {
		if err := json.Unmarshal(raw, &oauthBlob); err != nil {
			return errors.Wrap(err, errors.KindProviderFatal, "parse oauth config")
		}
	} else {
		oauthBlob = make(map[string]json.RawMessage)
	}
	tokenRaw, err := json.Marshal(token)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode token")
	}
	oauthBlob["token"] = tokenRaw
	merged, err := json.Marshal(oauthBlob)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode oauth config")
	}
	cfg["oauth"] = merged
	full, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode source config")
	}
	src.Config = full
	if err := e.store.SetSyncSource(ctx, src); err != nil {
		return err
	}
	e.publish(bus.ProviderConnected{Provider: src.Provider, FolderPath: folderPath})
	return nil
}

func (e *Engine) setStatus(folderPath string, status store.SyncStatus, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.setStatusErr(ctx, folderPath, status, msg); err != nil {
		e.logger.Warn("set sync status failed", "folder", folderPath, "error", err)
	}
}

func (e *Engine) setStatusErr(ctx context.Context, folderPath string, status store.SyncStatus, msg string) error {
	return e.store.SetFolderSyncStatus(ctx, folderPath, status, msg)
}

func (e *Engine) publish(ev bus.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

func cursorKey(folderPath string) string {
	return "sync_cursor/" + folderPath
}
