package syncsrc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/k3a/html2text"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

// Jira and Confluence sync as generated markdown documents: the plan
// renders every issue or page in memory, and the engine's hash
// comparison skips the ones whose rendering did not change.

const atlassianPageSize = 50

// jiraConfig selects a Jira project.
type jiraConfig struct {
	BaseURL    string `json:"base_url"`
	ProjectKey string `json:"project_key"`
	Email      string `json:"email"`
	APIToken   string `json:"api_token"`
}

type jiraProvider struct{}

var _ Provider = (*jiraProvider)(nil)

func newJiraProvider() *jiraProvider { return &jiraProvider{} }

func (p *jiraProvider) Name() string { return ProviderJira }

func (p *jiraProvider) parse(src *store.SyncSource) (*jiraConfig, error) {
	var cfg jiraConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse jira source config")
	}
	if cfg.BaseURL == "" || cfg.ProjectKey == "" {
		return nil, errors.New(errors.KindProviderFatal, "jira source requires base_url and project_key")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, nil
}

func (p *jiraProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	client := basicAuthClient(cfg.Email, cfg.APIToken)
	var me map[string]any
	return getJSON(ctx, client, cfg.BaseURL+"/rest/api/2/myself", &me)
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Created     string `json:"created"`
		Updated     string `json:"updated"`
		Labels      []string
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Assignee struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Reporter struct {
			DisplayName string `json:"displayName"`
		} `json:"reporter"`
		Comment struct {
			Comments []struct {
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Body    string `json:"body"`
				Created string `json:"created"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

type jiraSearchPage struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

func (p *jiraProvider) Plan(ctx context.Context, src *store.SyncSource, _ string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	client := basicAuthClient(cfg.Email, cfg.APIToken)

	var files []RemoteFile
	startAt := 0
	for {
		q := url.Values{}
		q.Set("jql", fmt.Sprintf("project = %s ORDER BY key", cfg.ProjectKey))
		q.Set("fields", "summary,description,status,priority,issuetype,assignee,reporter,created,updated,labels,comment")
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", fmt.Sprint(atlassianPageSize))

		var page jiraSearchPage
		if err := getJSON(ctx, client, cfg.BaseURL+"/rest/api/2/search?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, issue := range page.Issues {
			files = append(files, generatedDoc(
				docName(issue.Key, issue.Fields.Summary),
				renderJiraIssue(issue),
			))
		}
		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			break
		}
	}
	return &Listing{Files: files}, nil
}

func renderJiraIssue(issue jiraIssue) string {
	f := issue.Fields
	var sb strings.Builder
	fmt.Fprintf(&sb, "# [%s] %s\n\n", issue.Key, f.Summary)
	writeField(&sb, "Type", f.IssueType.Name)
	writeField(&sb, "Status", f.Status.Name)
	writeField(&sb, "Priority", f.Priority.Name)
	writeField(&sb, "Assignee", f.Assignee.DisplayName)
	writeField(&sb, "Reporter", f.Reporter.DisplayName)
	writeField(&sb, "Created", clipDate(f.Created))
	writeField(&sb, "Updated", clipDate(f.Updated))
	if len(f.Labels) > 0 {
		writeField(&sb, "Labels", strings.Join(f.Labels, ", "))
	}
	if f.Description != "" {
		fmt.Fprintf(&sb, "\n## Description\n\n%s\n", f.Description)
	}
	if len(f.Comment.Comments) > 0 {
		sb.WriteString("\n## Comments\n")
		for _, c := range f.Comment.Comments {
			fmt.Fprintf(&sb, "\n**%s** (%s):\n\n%s\n", c.Author.DisplayName, clipDate(c.Created), c.Body)
		}
	}
	return sb.String()
}

func writeField(sb *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(sb, "- **%s**: %s\n", name, value)
	}
}

func clipDate(iso string) string {
	if len(iso) > 10 {
		return iso[:10]
	}
	return iso
}

// confluenceConfig selects a Confluence space.
type confluenceConfig struct {
	BaseURL  string `json:"base_url"`
	SpaceKey string `json:"space_key"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}

type confluenceProvider struct{}

var _ Provider = (*confluenceProvider)(nil)

func newConfluenceProvider() *confluenceProvider { return &confluenceProvider{} }

func (p *confluenceProvider) Name() string { return ProviderConfluence }

func (p *confluenceProvider) parse(src *store.SyncSource) (*confluenceConfig, error) {
	var cfg confluenceConfig
	if err := json.Unmarshal(src.Config, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindProviderFatal, "parse confluence source config")
	}
	if cfg.BaseURL == "" || cfg.SpaceKey == "" {
		return nil, errors.New(errors.KindProviderFatal, "confluence source requires base_url and space_key")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, nil
}

func (p *confluenceProvider) Authorize(ctx context.Context, src *store.SyncSource) error {
	cfg, err := p.parse(src)
	if err != nil {
		return err
	}
	client := basicAuthClient(cfg.Email, cfg.APIToken)
	var me map[string]any
	return getJSON(ctx, client, cfg.BaseURL+"/rest/api/user/current", &me)
}

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
}

type confluenceListPage struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
	Limit   int              `json:"limit"`
	Start   int              `json:"start"`
}

func (p *confluenceProvider) Plan(ctx context.Context, src *store.SyncSource, _ string) (*Listing, error) {
	cfg, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	client := basicAuthClient(cfg.Email, cfg.APIToken)

	var files []RemoteFile
	start := 0
	for {
		q := url.Values{}
		q.Set("spaceKey", cfg.SpaceKey)
		q.Set("type", "page")
		q.Set("expand", "body.storage,version")
		q.Set("start", fmt.Sprint(start))
		q.Set("limit", fmt.Sprint(atlassianPageSize))

		var page confluenceListPage
		if err := getJSON(ctx, client, cfg.BaseURL+"/rest/api/content?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, cp := range page.Results {
			files = append(files, generatedDoc(
				docName(cp.ID, cp.Title),
				renderConfluencePage(cp),
			))
		}
		start += len(page.Results)
		if len(page.Results) < atlassianPageSize {
			break
		}
	}
	return &Listing{Files: files}, nil
}

func renderConfluencePage(page confluencePage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", page.Title)
	if page.Version.When != "" {
		fmt.Fprintf(&sb, "- **Updated**: %s (v%d)\n\n", clipDate(page.Version.When), page.Version.Number)
	}
	sb.WriteString(html2text.HTML2Text(page.Body.Storage.Value))
	sb.WriteString("\n")
	return sb.String()
}

// generatedDoc wraps rendered content as a remote file; the sha256
// lets the engine skip unchanged documents.
func generatedDoc(path, content string) RemoteFile {
	data := []byte(content)
	sum := sha256.Sum256(data)
	return RemoteFile{
		Path:        path,
		Size:        int64(len(data)),
		ContentHash: hex.EncodeToString(sum[:]),
		HashAlgo:    "sha256",
		Fetch: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
