// Package syncsrc pulls remote sources (git hosts, drive services,
// Atlassian products) into folders under the managed root. Each
// provider lists its remote tree; the engine mirrors it to disk with
// atomic writes, deleting local files the remote no longer has.
package syncsrc

import (
	"context"
	"io"

	"github.com/lodekb/lodestone/internal/store"
)

// Provider names, matching the sync_source variants.
const (
	ProviderGitHub      = "github"
	ProviderAzureDevOps = "azure_devops"
	ProviderGoogleDrive = "google_drive"
	ProviderSharePoint  = "sharepoint"
	ProviderBox         = "box"
	ProviderJira        = "jira"
	ProviderConfluence  = "confluence"
)

// RemoteFile is one file on the remote side with a lazy fetcher.
type RemoteFile struct {
	// Path is relative to the sync folder, slash-separated.
	Path string
	Size int64
	// ModifiedAt is the provider's timestamp, opaque to the engine.
	ModifiedAt string
	// ContentHash lets the engine skip unchanged files; HashAlgo names
	// the digest ("sha256", "md5", "sha1"). Empty hash falls back to a
	// size comparison.
	ContentHash string
	HashAlgo    string
	// Fetch streams the file content.
	Fetch func(ctx context.Context) (io.ReadCloser, error)
}

// Listing is a provider's plan output.
type Listing struct {
	Files []RemoteFile
	// Cursor is persisted and handed back on the next plan; providers
	// use it to short-circuit unchanged remotes.
	Cursor string
	// UpToDate signals nothing changed since the cursor; the engine
	// skips the apply phase entirely.
	UpToDate bool
	// Close releases plan resources (temp checkouts). May be nil.
	Close func()
}

// Provider is a remote source plugin.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Authorize validates credentials, refreshing tokens when a
	// refresh token exists. A ProviderAuthRequired error means the UI
	// must run the connect flow again.
	Authorize(ctx context.Context, src *store.SyncSource) error

	// Plan lists the remote tree. cursor is the value persisted from
	// the previous successful sync, or empty.
	Plan(ctx context.Context, src *store.SyncSource, cursor string) (*Listing, error)
}
