package syncsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/store"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Fix-login-bug", sanitizeName("Fix login bug"))
	assert.Equal(t, "a-b-c", sanitizeName(`a/b\c`))
	assert.Equal(t, "untitled", sanitizeName("   "))
	assert.Len(t, sanitizeName(strings.Repeat("x", 300)), 100)
}

func TestDocName(t *testing.T) {
	assert.Equal(t, "PROJ-1-Fix-login-bug.md", docName("PROJ-1", "Fix login bug"))
	assert.Equal(t, "PROJ-2.md", docName("PROJ-2", ""))
}

func TestGeneratedDoc(t *testing.T) {
	doc := generatedDoc("a.md", "body")
	assert.Equal(t, int64(4), doc.Size)
	assert.Equal(t, "sha256", doc.HashAlgo)

	rc, err := doc.Fetch(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestRenderJiraIssue(t *testing.T) {
	var issue jiraIssue
	issue.Key = "PROJ-7"
	issue.Fields.Summary = "Crash on startup"
	issue.Fields.Status.Name = "In Progress"
	issue.Fields.Priority.Name = "High"
	issue.Fields.Assignee.DisplayName = "Dana"
	issue.Fields.Created = "2026-01-15T10:00:00.000+0000"
	issue.Fields.Labels = []string{"bug", "urgent"}
	issue.Fields.Description = "Stack trace attached."

	md := renderJiraIssue(issue)
	assert.True(t, strings.HasPrefix(md, "# [PROJ-7] Crash on startup\n"))
	assert.Contains(t, md, "- **Status**: In Progress\n")
	assert.Contains(t, md, "- **Created**: 2026-01-15\n")
	assert.Contains(t, md, "- **Labels**: bug, urgent\n")
	assert.Contains(t, md, "## Description\n\nStack trace attached.")
	assert.NotContains(t, md, "**Reporter**", "empty fields should be omitted")
}

func TestRenderConfluencePage(t *testing.T) {
	var page confluencePage
	page.Title = "Runbook"
	page.Body.Storage.Value = "<h1>Steps</h1><p>Restart the <b>service</b>.</p>"
	page.Version.Number = 3
	page.Version.When = "2026-02-01T09:30:00.000Z"

	md := renderConfluencePage(page)
	assert.True(t, strings.HasPrefix(md, "# Runbook\n"))
	assert.Contains(t, md, "2026-02-01 (v3)")
	assert.Contains(t, md, "Restart the service.")
	assert.NotContains(t, md, "<p>")
}

func TestJiraPlanPaginates(t *testing.T) {
	issue := func(n int) map[string]any {
		return map[string]any{
			"key": fmt.Sprintf("PROJ-%d", n),
			"fields": map[string]any{
				"summary": fmt.Sprintf("Issue %d", n),
			},
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "dev@example.com", user)
		require.Equal(t, "tok", pass)
		require.Equal(t, "/rest/api/2/search", r.URL.Path)

		startAt := 0
		fmt.Sscan(r.URL.Query().Get("startAt"), &startAt)
		issues := []any{}
		for n := startAt + 1; n <= startAt+atlassianPageSize && n <= 60; n++ {
			issues = append(issues, issue(n))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"startAt": startAt,
			"total":   60,
			"issues":  issues,
		})
	}))
	defer srv.Close()

	p := newJiraProvider()
	src := &store.SyncSource{
		Provider: ProviderJira,
		Config: json.RawMessage(fmt.Sprintf(
			`{"base_url":%q,"project_key":"PROJ","email":"dev@example.com","api_token":"tok"}`, srv.URL)),
	}

	listing, err := p.Plan(context.Background(), src, "")
	require.NoError(t, err)
	require.Len(t, listing.Files, 60)
	assert.Equal(t, "PROJ-1-Issue-1.md", listing.Files[0].Path)
	assert.Equal(t, "sha256", listing.Files[0].HashAlgo)
}

func TestJiraAuthorizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newJiraProvider()
	src := &store.SyncSource{
		Provider: ProviderJira,
		Config: json.RawMessage(fmt.Sprintf(
			`{"base_url":%q,"project_key":"PROJ","email":"dev@example.com","api_token":"bad"}`, srv.URL)),
	}

	err := p.Authorize(context.Background(), src)
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderAuthRequired, errors.KindOf(err))
}

func TestConfluencePlanRendersPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/content", r.URL.Path)
		require.Equal(t, "DOCS", r.URL.Query().Get("spaceKey"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{
					"id":    "101",
					"title": "Getting Started",
					"body": map[string]any{
						"storage": map[string]any{"value": "<p>Welcome aboard.</p>"},
					},
					"version": map[string]any{"number": 2, "when": "2026-03-01T00:00:00Z"},
				},
			},
		})
	}))
	defer srv.Close()

	p := newConfluenceProvider()
	src := &store.SyncSource{
		Provider: ProviderConfluence,
		Config: json.RawMessage(fmt.Sprintf(
			`{"base_url":%q,"space_key":"DOCS","email":"dev@example.com","api_token":"tok"}`, srv.URL)),
	}

	listing, err := p.Plan(context.Background(), src, "")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "101-Getting-Started.md", listing.Files[0].Path)

	rc, err := listing.Files[0].Fetch(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Welcome aboard.")
}

func TestProviderConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		config   string
	}{
		{"jira missing project", newJiraProvider(), `{"base_url":"https://x.atlassian.net"}`},
		{"confluence missing space", newConfluenceProvider(), `{"base_url":"https://x.atlassian.net"}`},
		{"drive missing folder", newDriveProvider(), `{}`},
		{"box missing folder", newBoxProvider(), `{}`},
		{"sharepoint missing drive", newSharePointProvider(), `{"site_id":"s"}`},
		{"malformed json", newJiraProvider(), `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.Authorize(context.Background(), &store.SyncSource{
				Config: json.RawMessage(tt.config),
			})
			require.Error(t, err)
			assert.Equal(t, errors.KindProviderFatal, errors.KindOf(err))
		})
	}
}

func TestOAuthClientRequiresToken(t *testing.T) {
	creds := &oauthCredentials{ClientID: "cid"}
	_, err := creds.client(context.Background(), googleEndpoint)
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderAuthRequired, errors.KindOf(err))
}
