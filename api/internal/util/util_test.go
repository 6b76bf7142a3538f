package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	require.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, StripCodeFences(`  {"a":1} `))
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"closed", "<think>hmm\nok</think>\n{\"orders\":[]}", `{"orders":[]}`},
		{"two blocks", "<think>a</think>x<think>b</think>y", "xy"},
		{"unclosed", "{\"a\":1}<think>и дальше", `{"a":1}`},
		{"none", "plain", "plain"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StripReasoning(tc.in))
		})
	}
}

func TestPickMIME(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	require.Equal(t, "image/webp", PickMIME("image/webp", "a.png", png))
	require.Equal(t, "audio/ogg", PickMIME("", "voice.OGA", nil))
	require.Equal(t, "image/png", PickMIME("", "blob", png))
	require.Equal(t, "PNG", SniffMimeForOCR(png))
	require.Equal(t, "JPEG", SniffMimeForOCR([]byte{0xFF, 0xD8, 0x00}))
}

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system_prompt.txt"), []byte("  из файла \n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("  "), 0o644))

	require.Equal(t, "из файла", LoadPrompt(dir, "system_prompt.txt", "def"))
	require.Equal(t, "def", LoadPrompt(dir, "empty.txt", "def"))
	require.Equal(t, "def", LoadPrompt(dir, "missing.txt", "def"))
	require.Equal(t, "def", LoadPrompt("", "system_prompt.txt", "def"))
}
