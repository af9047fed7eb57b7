package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodekb/lodestone/internal/errors"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "docs/hello.txt", "docs/hello.txt", false},
		{"leading slash", "/docs/hello.txt", "docs/hello.txt", false},
		{"trailing slash", "docs/", "docs", false},
		{"backslashes", `docs\sub\a.md`, "docs/sub/a.md", false},
		{"redundant segments", "docs//sub/./a.md", "docs/sub/a.md", false},
		{"empty", "", "", false},
		{"dot", ".", "", false},
		{"whitespace", "  docs/a.txt  ", "docs/a.txt", false},
		{"parent escape", "../etc/passwd", "", true},
		{"nested escape", "docs/../../etc", "", true},
		{"nul byte", "docs/\x00.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindInvalidPath, errors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsIgnored(t *testing.T) {
	assert.True(t, IsIgnored(".git/config"))
	assert.True(t, IsIgnored("docs/.hidden/readme.md"))
	assert.True(t, IsIgnored("src/node_modules/left-pad/index.js"))
	assert.True(t, IsIgnored("docs/.DS_Store"))
	assert.True(t, IsIgnored("py/__pycache__/mod.pyc"))
	assert.False(t, IsIgnored("docs/hello.txt"))
	assert.False(t, IsIgnored(""))
	assert.False(t, IsIgnored("dotless/gitignore"))
}

func TestFolderOf(t *testing.T) {
	assert.Equal(t, "docs/sub", FolderOf("docs/sub/a.txt"))
	assert.Equal(t, "docs", FolderOf("docs/a.txt"))
	assert.Equal(t, "", FolderOf("a.txt"))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("docs/a.txt", "docs"))
	assert.True(t, IsWithin("docs", "docs"))
	assert.True(t, IsWithin("anything", ""))
	assert.False(t, IsWithin("docs2/a.txt", "docs"))
	assert.False(t, IsWithin("doc", "docs"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"a/b", "a"}, Ancestors("a/b/c.txt"))
	assert.Nil(t, Ancestors("c.txt"))
}
