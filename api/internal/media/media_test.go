package media

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/apperr"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	root := t.TempDir()
	c, err := New(Dirs{
		Photos: filepath.Join(root, "photos"),
		Audio:  filepath.Join(root, "audio"),
		Temp:   filepath.Join(root, "temp"),
	}, Limits{MaxImageMB: 1, MaxImageWidth: 100, MaxImageHeight: 100, MaxAudioMB: 1, MaxAudioMin: 2}, nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 14, 8, 30, 5, 0, time.UTC) }
	return c
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestSaveAudio(t *testing.T) {
	c := newCache(t)

	path, err := c.SaveAudio([]byte("OggS fake"), "voice.OGG", 42)
	require.NoError(t, err)
	name := filepath.Base(path)
	require.True(t, strings.HasPrefix(name, "20261014_083005_42_"), name)
	require.True(t, strings.HasSuffix(name, ".ogg"), name)
	require.Len(t, name, len("20261014_083005_42_")+8+len(".ogg"))

	tests := []struct {
		name string
		data []byte
		file string
	}{
		{"bad ext", []byte("x"), "voice.txt"},
		{"too big", make([]byte, 2*mb), "voice.ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SaveAudio(tt.data, tt.file, 42)
			require.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestCheckAudioDuration(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.CheckAudioDuration(120))
	err := c.CheckAudioDuration(121)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Contains(t, apperr.UserMessage(err), "превышает лимит 2 мин")
}

func TestValidateImage(t *testing.T) {
	c := newCache(t)

	path, err := c.SavePhoto(pngBytes(t, 80, 60), "scan.png", 1)
	require.NoError(t, err)
	info, err := c.ValidateImage(path)
	require.NoError(t, err)
	require.Equal(t, 80, info.Width)
	require.Equal(t, "png", info.Format)

	big, err := c.SavePhoto(pngBytes(t, 120, 10), "big.png", 2)
	require.NoError(t, err)
	_, err = c.ValidateImage(big)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Contains(t, apperr.UserMessage(err), "120x10")

	broken, err := c.SavePhoto([]byte("not an image"), "x.jpg", 3)
	require.NoError(t, err)
	_, err = c.ValidateImage(broken)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	webp, err := c.SavePhoto([]byte("RIFF....WEBP"), "x.webp", 4)
	require.NoError(t, err)
	info, err = c.ValidateImage(webp)
	require.NoError(t, err)
	require.Equal(t, "webp", info.Format)

	_, err = c.SavePhoto([]byte("x"), "doc.pdf", 1)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCleanupAndStats(t *testing.T) {
	c := newCache(t)
	_, err := c.SaveAudio([]byte("a"), "a.ogg", 1)
	require.NoError(t, err)
	old, err := c.SavePhoto(pngBytes(t, 1, 1), "p.png", 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(c.dirs.Temp, "tmp.bin"), []byte("tt"), 0o644))

	st := c.Stats()
	require.Equal(t, 1, st.Audio.Files)
	require.Equal(t, 1, st.Photos.Files)
	require.Equal(t, 1, st.Temp.Files)

	// mtime выставляем относительно часов кэша
	past := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, past, past))
	fresh := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(c.dirs.Temp, "tmp.bin"), fresh, fresh))

	entries, _ := os.ReadDir(c.dirs.Audio)
	require.Len(t, entries, 1)
	require.NoError(t, os.Chtimes(filepath.Join(c.dirs.Audio, entries[0].Name()), fresh, fresh))

	require.Equal(t, 1, c.Cleanup(24*time.Hour))
	require.NoFileExists(t, old)
	require.Equal(t, 0, c.Stats().Photos.Files)
}
