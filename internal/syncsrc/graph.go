package syncsrc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

const graphAPIBase = "https://graph.microsoft.com/v1.0"

// sharePointConfig selects a drive within a SharePoint site.
type sharePointConfig struct {
	SiteID  string `json:"site_id"`
	DriveID string `json:"drive_id"`
	// Path restricts the mirror to a subtree of the drive.
	Path  string           `json:"path"`
	OAuth oauthCredentials `json:"oauth"`
}

type sharePointProvider struct{}

var _ Provider = (*sharePointProvider)(nil)

func newSharePointProvider() *sharePointProvider { return &sharePointProvider{} }

func (p *sharePointProvider) Name() string { return ProviderSharePoint }

func (p *sharePointProvider) parse(src *store.SyncSource) (*sharePointConfig, error) {
	var cfg sharePointConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse sharepoint source config")
	}
	if cfg.SiteID == "" || cfg.DriveID == "" {
		return nil, errors.New(errors.KindProviderFatal, "sharepoint source requires site_id and drive_id")
	}
	return &cfg, nil
}

func (p *sharePointProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	return cfg.OAuth.verify(ctx, microsoftEndpoint)
}

type graphItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	DownloadURL          string `json:"@microsoft.graph.downloadUrl"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		Hashes struct {
			SHA1Hash string `json:"sha1Hash"`
		} `json:"hashes"`
	} `json:"file"`
}

type graphListPage struct {
	NextLink string      `json:"@odata.nextLink"`
	Value    []graphItem `json:"value"`
}

func (p *sharePointProvider) Plan(ctx context.Context, src *store.SyncSource, _ string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	client, err := cfg.OAuth.client(ctx, microsoftEndpoint)
	if err != nil {
		return nil, err
	}

	root := graphAPIBase + "/sites/" + cfg.SiteID + "/drives/" + cfg.DriveID
	start := root + "/root/children"
	if cfg.Path != "" {
		start = root + "/root:/" + url.PathEscape(cfg.Path) + ":/children"
	}

	var files []RemoteFile
	if err := p.listChildren(ctx, client, root, start, "", &files); err != nil {
		return nil, err
	}
	return &Listing{Files: files}, nil
}

func (p *sharePointProvider) listChildren(ctx context.Context, client *http.Client, root, link, prefix string, out *[]RemoteFile) error {
	for link != "" {
		var page graphListPage
		if err := getJSON(ctx, client, link, &page); err != nil {
			return err
		}

		for _, item := range page.Value {
			itemPath := item.Name
			if prefix != "" {
				itemPath = prefix + "/" + item.Name
			}
			if item.Folder != nil {
				child := root + "/items/" + item.ID + "/children"
				if err := p.listChildren(ctx, client, root, child, itemPath, out); err != nil {
					return err
				}
				continue
			}

			hash, algo := "", ""
			if item.File != nil && item.File.Hashes.SHA1Hash != "" {
				hash, algo = item.File.Hashes.SHA1Hash, "sha1"
			}
			download := item.DownloadURL
			itemID := item.ID
			*out = append(*out, RemoteFile{
				Path:        itemPath,
				Size:        item.Size,
				ModifiedAt:  item.LastModifiedDateTime,
				ContentHash: hash,
				HashAlgo:    algo,
				Fetch: func(fetchCtx context.Context) (io.ReadCloser, error) {
					// The download URL is pre-authenticated but
					// short-lived; fall back to the content endpoint.
					if download != "" {
						body, err := getStream(fetchCtx, http.DefaultClient, download)
						if err == nil {
							return body, nil
						}
					}
					return getStream(fetchCtx, client, root+"/items/"+itemID+"/content")
				},
			})
		}
		link = page.NextLink
	}
	return nil
}
