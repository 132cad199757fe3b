package listconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPath(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.True(t, set.Empty())
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")

	_, err := Load(path)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, path, pe.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), path)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	content := `# generated by llcov
file:foo.go
func:main.run

file:pkg/bar.go func:bar.Do line:42
file:baz.go line:7 relblock:2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.ElementsMatch(t, []FilterEntry{
		{Filename: "foo.go"},
		{Function: "main.run"},
		{Filename: "pkg/bar.go", Function: "bar.Do", Line: 42, HasLine: true},
		{Filename: "baz.go", Line: 7, HasLine: true, Relblock: 2, HasRelblock: true},
	}, set.Entries())
}

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    FilterEntry
		wantOK  bool
		wantErr string
	}{
		{
			name:   "file only",
			line:   "file:foo.c",
			want:   FilterEntry{Filename: "foo.c"},
			wantOK: true,
		},
		{
			name:   "func and line",
			line:   "func:target line:10",
			want:   FilterEntry{Function: "target", Line: 10, HasLine: true},
			wantOK: true,
		},
		{
			name:   "extra whitespace",
			line:   "  file:foo.c \t func:bar   line:42 ",
			want:   FilterEntry{Filename: "foo.c", Function: "bar", Line: 42, HasLine: true},
			wantOK: true,
		},
		{
			name:   "blank",
			line:   "   ",
			wantOK: false,
		},
		{
			name:   "comment",
			line:   "# file:foo.c",
			wantOK: false,
		},
		{
			name:    "unknown type",
			line:    "file:foo.c color:red",
			wantErr: `unknown token type "color"`,
		},
		{
			name:    "missing colon",
			line:    "file",
			wantErr: "malformed token",
		},
		{
			name:    "missing value",
			line:    "file:",
			wantErr: "malformed token",
		},
		{
			name:    "relblock without line",
			line:    "file:foo.c relblock:1",
			wantErr: "relblock requires line",
		},
		{
			name:    "line alone",
			line:    "line:10",
			wantErr: "needs a file or func",
		},
		{
			name:    "bad number",
			line:    "file:foo.c line:ten",
			wantErr: "invalid line number",
		},
		{
			name:    "duplicate type",
			line:    "file:a.c file:b.c",
			wantErr: "duplicate token type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseEntry(tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ErrorNamesPathAndLine(t *testing.T) {
	input := "file:ok.c\nfile:foo.c bogus:1\n"

	set, err := Parse(strings.NewReader(input), "lists/black.txt")
	require.Error(t, err)
	assert.Nil(t, set)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "lists/black.txt", pe.Path)
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, "bogus:1", pe.Token)
	assert.True(t, strings.HasPrefix(err.Error(), "lists/black.txt:2: "))
}

func TestFilterEntry_StringRoundTrip(t *testing.T) {
	entries := []FilterEntry{
		{Filename: "foo.c"},
		{Function: "main.(*T).Run"},
		{Filename: "a/b.go", Function: "b.F", Line: 3, HasLine: true},
		{Filename: "c.go", Line: 9, HasLine: true, Relblock: 0, HasRelblock: true},
	}

	for _, e := range entries {
		t.Run(e.String(), func(t *testing.T) {
			got, ok, err := ParseEntry(e.String())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, e, got)
		})
	}
}

func TestFilterSet_NilIsEmpty(t *testing.T) {
	var set *FilterSet
	assert.True(t, set.Empty())
	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Entries())
}
