package syncsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lodekb/lodestone/internal/errors"
)

// OAuth endpoints for the hosted providers. The browser flow runs
// outside this package; only token refresh happens here.
var (
	googleEndpoint = oauth2.Endpoint{
		AuthURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	}
	microsoftEndpoint = oauth2.Endpoint{
		AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	}
	boxEndpoint = oauth2.Endpoint{
		AuthURL:  "https://account.box.com/api/oauth2/authorize",
		TokenURL: "https://api.box.com/oauth2/token",
	}
)

// endpointFor maps an OAuth-backed provider to its token endpoint.
func endpointFor(provider string) (oauth2.Endpoint, bool) {
	switch provider {
	case ProviderGoogleDrive:
		return googleEndpoint, true
	case ProviderSharePoint:
		return microsoftEndpoint, true
	case ProviderBox:
		return boxEndpoint, true
	default:
		return oauth2.Endpoint{}, false
	}
}

// providerScopes are the minimal read scopes requested during connect.
var providerScopes = map[string][]string{
	ProviderGoogleDrive: {"https://www.googleapis.com/auth/drive.readonly"},
	ProviderSharePoint:  {"offline_access", "Sites.Read.All", "Files.Read.All"},
	ProviderBox:         {"root_readonly"},
}

// oauthCredentials is the shared credential blob inside a source
// config's "oauth" key.
type oauthCredentials struct {
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Token        *oauth2.Token `json:"token"`
}

// client returns an HTTP client that refreshes the access token as
// needed. A missing token demands the UI connect flow.
func (c *oauthCredentials) client(ctx context.Context, endpoint oauth2.Endpoint) (*http.Client, error) {
	if c.Token == nil || (c.Token.AccessToken == "" && c.Token.RefreshToken == "") {
		return nil, errors.New(errors.KindProviderAuthRequired, "no stored token; reconnect required")
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
	}
	httpClient := oauth2.NewClient(ctx, conf.TokenSource(ctx, c.Token))
	httpClient.Timeout = 30 * time.Second
	return httpClient, nil
}

// verify forces a token refresh so an expired grant surfaces during
// Authorize instead of mid-sync.
func (c *oauthCredentials) verify(ctx context.Context, endpoint oauth2.Endpoint) error {
	if c.Token == nil || (c.Token.AccessToken == "" && c.Token.RefreshToken == "") {
		return errors.New(errors.KindProviderAuthRequired, "no stored token; reconnect required")
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
	}
	if _, err := conf.TokenSource(ctx, c.Token).Token(); err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil &&
			(retrieve.Response.StatusCode == http.StatusBadRequest ||
				retrieve.Response.StatusCode == http.StatusUnauthorized) {
			return errors.Wrap(err, errors.KindProviderAuthRequired, "token refresh rejected")
		}
		return errors.Wrap(err, errors.KindProviderTransient, "token refresh")
	}
	return nil
}

// getJSON performs a GET and decodes the JSON body, mapping HTTP
// failure classes onto provider error kinds.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		if errors.IsCancelled(ctx.Err()) {
			return errors.Wrap(ctx.Err(), errors.KindCancelled, "provider request")
		}
		return errors.Wrap(err, errors.KindProviderTransient, "provider request")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.KindProviderFatal, "decode provider response")
	}
	return nil
}

// getStream performs a GET and returns the body for streaming.
func getStream(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProviderTransient, "provider download")
	}
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Newf(errors.KindProviderAuthRequired, "provider rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Newf(errors.KindProviderTransient, "provider unavailable (status %d)", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf(errors.KindProviderFatal, "provider error (status %d): %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// basicAuthTransport adds a fixed basic-auth header, for the
// Atlassian token scheme.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(clone)
}

func basicAuthClient(username, password string) *http.Client {
	return &http.Client{
		Transport: &basicAuthTransport{username: username, password: password},
		Timeout:   30 * time.Second,
	}
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

// sanitizeName turns an arbitrary title into a safe path component.
func sanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

// docName renders "<key>-<title>.md" for generated documents.
func docName(key, title string) string {
	if title == "" {
		return key + ".md"
	}
	return fmt.Sprintf("%s-%s.md", key, sanitizeName(title))
}
