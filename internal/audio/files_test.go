package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAudioFile(t *testing.T) {
	assert.True(t, IsAudioFile("track.mp3"))
	assert.True(t, IsAudioFile("TRACK.MP3"))
	assert.True(t, IsAudioFile("book.m4b"))
	assert.True(t, IsAudioFile("book.flac"))
	assert.True(t, IsAudioFile("book.ogg"))
	assert.True(t, IsAudioFile("book.wma"))
	assert.True(t, IsAudioFile("book.m4a"))

	assert.False(t, IsAudioFile("cover.jpg"))
	assert.False(t, IsAudioFile("metadata.opf"))
	assert.False(t, IsAudioFile("track.mp3.bak"))
	assert.False(t, IsAudioFile("noextension"))
}

func TestListAudioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"02.mp3", "01.mp3", "cover.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "disc2"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disc2", "03.mp3"), nil, 0644))

	files, err := ListAudioFiles(dir)
	require.NoError(t, err)

	// Sorted, non-recursive, audio only
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "01.mp3"), files[0])
	assert.Equal(t, filepath.Join(dir, "02.mp3"), files[1])
}

func TestWalkAudioFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cd1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cd2"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cd1", "01.mp3"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cd2", "01.mp3"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	files, err := WalkAudioFiles(dir)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "cd1", "01.mp3"), files[0])
	assert.Equal(t, filepath.Join(dir, "cd2", "01.mp3"), files[1])
}

func TestTrackPadding(t *testing.T) {
	assert.Equal(t, 2, TrackPadding(1))
	assert.Equal(t, 2, TrackPadding(99))
	assert.Equal(t, 3, TrackPadding(100))
	assert.Equal(t, 3, TrackPadding(999))
	assert.Equal(t, 4, TrackPadding(1000))
}

func TestCommentLanguage(t *testing.T) {
	assert.Equal(t, "eng", commentLanguage("English"))
	assert.Equal(t, "eng", commentLanguage("en"))
	assert.Equal(t, "pol", commentLanguage("polski"))
	assert.Equal(t, "pol", commentLanguage("pl"))
	assert.Equal(t, "deu", commentLanguage("Deutsch"))
	assert.Equal(t, "fra", commentLanguage("fr"))
	assert.Equal(t, "spa", commentLanguage("es"))
	assert.Equal(t, "pol", commentLanguage("POL"), "three-letter codes pass through")
	assert.Equal(t, "eng", commentLanguage(""), "unknown defaults to eng")
	assert.Equal(t, "eng", commentLanguage("klingon"))
}
