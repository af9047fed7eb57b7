package server

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lodekb/lodestone/internal/errors"
	"github.com/lodekb/lodestone/internal/validation"
)

// rawTokenTTL bounds how long an ephemeral download link stays valid.
const rawTokenTTL = 5 * time.Minute

type rawGrant struct {
	path    string
	expires time.Time
}

// rawTokens maps opaque download tokens to logical paths.
type rawTokens struct {
	mu     sync.Mutex
	grants map[string]rawGrant
}

func newRawTokens() *rawTokens {
	return &rawTokens{grants: make(map[string]rawGrant)}
}

func (r *rawTokens) issue(logical string) string {
	token := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, g := range r.grants {
		if time.Now().After(g.expires) {
			delete(r.grants, t)
		}
	}
	r.grants[token] = rawGrant{path: logical, expires: time.Now().Add(rawTokenTTL)}
	return token
}

func (r *rawTokens) resolve(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[token]
	if !ok || time.Now().After(g.expires) {
		delete(r.grants, token)
		return "", false
	}
	return g.path, true
}

// RawURI issues an ephemeral download link for a file, for the MCP
// get_file_uri tool.
func (s *Server) RawURI(logical string) (string, error) {
	normalized, err := validation.NormalizePath(logical)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(s.absPath(normalized)); err != nil {
		return "", errors.Newf(errors.KindNotFound, "file not found: %s", normalized)
	}
	return "/api/raw/" + s.raw.issue(normalized), nil
}

func (s *Server) getRaw(c echo.Context) error {
	logical, ok := s.raw.resolve(c.Param("token"))
	if !ok {
		return s.fail(c, errors.New(errors.KindNotFound, "download link expired or unknown"))
	}
	return c.Attachment(s.absPath(logical), validation.BaseName(logical))
}
