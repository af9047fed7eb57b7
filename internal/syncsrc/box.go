package syncsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

const boxAPIBase = "https://api.box.com/2.0"

// boxConfig selects a Box folder.
type boxConfig struct {
	FolderID string           `json:"folder_id"`
	OAuth    oauthCredentials `json:"oauth"`
}

type boxProvider struct{}

var _ Provider = (*boxProvider)(nil)

func newBoxProvider() *boxProvider { return &boxProvider{} }

func (p *boxProvider) Name() string { return ProviderBox }

func (p *boxProvider) parse(src *store.SyncSource) (*boxConfig, error) {
	var cfg boxConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse box source config")
	}
	if cfg.FolderID == "" {
		return nil, errors.New(errors.KindProviderFatal, "box source requires folder_id")
	}
	return &cfg, nil
}

func (p *boxProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	return cfg.OAuth.verify(ctx, boxEndpoint)
}

type boxItem struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	SHA1       string `json:"sha1"`
}

type boxListPage struct {
	TotalCount int       `json:"total_count"`
	Entries    []boxItem `json:"entries"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

func (p *boxProvider) Plan(ctx context.Context, src *store.SyncSource, _ string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	client, err := cfg.OAuth.client(ctx, boxEndpoint)
	if err != nil {
		return nil, err
	}

	var files []RemoteFile
	if err := p.listRecursive(ctx, client, cfg.FolderID, "", &files); err != nil {
		return nil, err
	}
	return &Listing{Files: files}, nil
}

func (p *boxProvider) listRecursive(ctx context.Context, client *http.Client, folderID, prefix string, out *[]RemoteFile) error {
	offset := 0
	for {
		link := fmt.Sprintf("%s/folders/%s/items?fields=type,id,name,size,modified_at,sha1&limit=1000&offset=%d",
			boxAPIBase, folderID, offset)
		var page boxListPage
		if err := getJSON(ctx, client, link, &page); err != nil {
			return err
		}

		for _, item := range page.Entries {
			itemPath := item.Name
			if prefix != "" {
				itemPath = prefix + "/" + item.Name
			}
			switch item.Type {
			case "folder":
				if err := p.listRecursive(ctx, client, item.ID, itemPath, out); err != nil {
					return err
				}
			case "file":
				fileID := item.ID
				*out = append(*out, RemoteFile{
					Path:        itemPath,
					Size:        item.Size,
					ModifiedAt:  item.ModifiedAt,
					ContentHash: item.SHA1,
					HashAlgo:    "sha1",
					Fetch: func(fetchCtx context.Context) (io.ReadCloser, error) {
						return getStream(fetchCtx, client, boxAPIBase+"/files/"+fileID+"/content")
					},
				})
			}
		}

		offset += len(page.Entries)
		if offset >= page.TotalCount || len(page.Entries) == 0 {
			return nil
		}
	}
}
