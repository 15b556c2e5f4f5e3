package files

import (
	"testing"

	"emberframe/internal/apperr"

	"github.com/stretchr/testify/require"
)

func TestPolicyClassify(t *testing.T) {
	p := NewPolicy(0, nil)

	tests := map[string]string{
		"photo.JPG":    CategoryImage,
		"clip.webm":    CategoryVideo,
		"track.flac":   CategoryAudio,
		"thesis.pdf":   CategoryDocument,
		"backup.tar":   CategoryArchive,
		"main.go":      CategoryCode,
		"README":       CategoryOther,
		"weird.xyzzy":  CategoryOther,
		".hidden.yaml": CategoryCode,
	}
	for name, want := range tests {
		require.Equal(t, want, p.Classify(name).Name, name)
	}
}

func TestPolicyLimit(t *testing.T) {
	p := NewPolicy(20*mb, nil)

	require.Equal(t, int64(10*mb), p.Limit(p.Classify("a.go")))
	require.Equal(t, int64(20*mb), p.Limit(p.Classify("a.mp4")))

	unlimited := NewPolicy(0, nil)
	require.Equal(t, int64(1024*mb), unlimited.Limit(unlimited.Classify("a.zip")))
}

func TestPolicyCheck(t *testing.T) {
	p := NewPolicy(100*mb, []string{".EXE", "sh "})

	c, err := p.Check("report.pdf", 5*mb)
	require.NoError(t, err)
	require.Equal(t, CategoryDocument, c.Name)

	_, err = p.Check("virus.exe", 1)
	require.ErrorIs(t, err, apperr.ErrInvalidFile)

	_, err = p.Check("install.sh", 1)
	require.ErrorIs(t, err, apperr.ErrInvalidFile)

	_, err = p.Check("movie.mkv", 101*mb)
	require.ErrorIs(t, err, apperr.ErrInvalidFile)

	_, err = p.Check("notes.txt", -1)
	require.ErrorIs(t, err, apperr.ErrInvalidFile)

	_, err = p.Check("empty.txt", 0)
	require.NoError(t, err)
}

func TestIsCategory(t *testing.T) {
	require.True(t, IsCategory(CategoryImage))
	require.True(t, IsCategory(CategoryOther))
	require.False(t, IsCategory("spreadsheet"))
}
