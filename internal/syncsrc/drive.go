package syncsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

const driveAPIBase = "https://www.googleapis.com/drive/v3"

// driveConfig selects a Google Drive folder.
type driveConfig struct {
	FolderID string           `json:"folder_id"`
	OAuth    oauthCredentials `json:"oauth"`
}

type driveProvider struct{}

var _ Provider = (*driveProvider)(nil)

func newDriveProvider() *driveProvider { return &driveProvider{} }

func (p *driveProvider) Name() string { return ProviderGoogleDrive }

func (p *driveProvider) parse(src *store.SyncSource) (*driveConfig, error) {
	var cfg driveConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse drive source config")
	}
	if cfg.FolderID == "" {
		return nil, errors.New(errors.KindProviderFatal, "google_drive source requires folder_id")
	}
	return &cfg, nil
}

func (p *driveProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	return cfg.OAuth.verify(ctx, googleEndpoint)
}

type driveItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size"`
	ModifiedTime string `json:"modifiedTime"`
	MD5Checksum  string `json:"md5Checksum"`
}

type driveListPage struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveItem `json:"files"`
}

const driveFolderMIME = "application/vnd.google-apps.folder"

// Plan lists the folder tree. Google-native documents (Docs, Sheets)
// have no binary content and are skipped.
func (p *driveProvider) Plan(ctx context.Context, src *store.SyncSource, _ string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	client, err := cfg.OAuth.client(ctx, googleEndpoint)
	if err != nil {
		return nil, err
	}

	var files []RemoteFile
	if err := p.listRecursive(ctx, client, cfg.FolderID, "", &files); err != nil {
		return nil, err
	}
	return &Listing{Files: files}, nil
}

// DriveFolder is one subfolder entry for the source-setup UI.
type DriveFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListDriveFolders lists the immediate subfolders of parentID using the
// source's stored credentials. Empty parentID lists the drive root.
func ListDriveFolders(ctx context.Context, src *store.SyncSource, parentID string) ([]DriveFolder, error) {
	var cfg driveConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse drive source config")
	}
	client, err := cfg.OAuth.client(ctx, googleEndpoint)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		parentID = "root"
	}

	var out []DriveFolder
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", parentID, driveFolderMIME))
		q.Set("fields", "nextPageToken, files(id, name)")
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page driveListPage
		if err := getJSON(ctx, client, driveAPIBase+"/files?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, item := range page.Files {
			out = append(out, DriveFolder{ID: item.ID, Name: item.Name})
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

func (p *driveProvider) listRecursive(ctx context.Context, client *http.Client, folderID, prefix string, out *[]RemoteFile) error {
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
		q.Set("fields", "nextPageToken, files(id, name, mimeType, size, modifiedTime, md5Checksum)")
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page driveListPage
		if err := getJSON(ctx, client, driveAPIBase+"/files?"+q.Encode(), &page); err != nil {
			return err
		}

		for _, item := range page.Files {
			itemPath := item.Name
			if prefix != "" {
				itemPath = prefix + "/" + item.Name
			}
			switch {
			case item.MimeType == driveFolderMIME:
				if err := p.listRecursive(ctx, client, item.ID, itemPath, out); err != nil {
					return err
				}
			case strings.HasPrefix(item.MimeType, "application/vnd.google-apps."):
				continue
			default:
				size, _ := strconv.ParseInt(item.Size, 10, 64)
				fileID := item.ID
				*out = append(*out, RemoteFile{
					Path:        itemPath,
					Size:        size,
					ModifiedAt:  item.ModifiedTime,
					ContentHash: item.MD5Checksum,
					HashAlgo:    "md5",
					Fetch: func(fetchCtx context.Context) (io.ReadCloser, error) {
						return getStream(fetchCtx, client, driveAPIBase+"/files/"+fileID+"?alt=media")
					},
				})
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return nil
		}
	}
}
