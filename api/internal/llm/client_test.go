package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/apperr"
)

type fakeCompleter struct {
	reply   string
	err     error
	gotUser string
	pingErr error
}

func (f *fakeCompleter) Name() string  { return "fake" }
func (f *fakeCompleter) Model() string { return "fake-1" }
func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.gotUser = user
	return f.reply, f.err
}
func (f *fakeCompleter) Ping(context.Context) error { return f.pingErr }

func TestProcessTextScenarios(t *testing.T) {
	tests := []struct {
		name  string
		input string
		reply string
		want  []OrderRecord
	}{
		{
			name:  "rework with comment",
			input: "#10409 doesn't fit, grinding didn't help",
			reply: `{"orders":[{"order_id":"10409","status":"needs rework","comment":"doesn't fit, grinding didn't help"}],"requires_correction":false,"clarification_question":null}`,
			want:  []OrderRecord{{OrderID: "10409", Status: StatusRework, Comment: strPtr("doesn't fit, grinding didn't help")}},
		},
		{
			name:  "two approved",
			input: "#10494 #10495 all good",
			reply: `{"orders":[{"order_id":"10494","status":"all good","comment":null},{"order_id":"10495","status":"ok","comment":null}],"requires_correction":false,"clarification_question":null}`,
			want:  []OrderRecord{{OrderID: "10494", Status: StatusApproved}, {OrderID: "10495", Status: StatusApproved}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeCompleter{reply: tc.reply}
			got := NewText(fc, "sys", ParseOptions{}, nil).ProcessText(context.Background(), tc.input, nil)
			require.Equal(t, tc.want, got.Orders)
			require.False(t, got.RequiresCorrection)
			require.Equal(t, tc.input, fc.gotUser)
		})
	}
}

func TestProcessTextNetworkError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("dial tcp: connection refused")}
	got := NewText(fc, "sys", ParseOptions{}, nil).ProcessText(context.Background(), "#10409 годно", nil)
	require.Empty(t, got.Orders)
	require.NotNil(t, got.Orders)
	require.True(t, got.RequiresCorrection)
	require.Equal(t, MsgProviderError, got.Question())
}

func TestProcessTextHistory(t *testing.T) {
	fc := &fakeCompleter{reply: `{"orders":[],"requires_correction":false,"clarification_question":null}`}
	NewText(fc, "sys", ParseOptions{}, nil).ProcessText(context.Background(), "ответ", []string{"#10409", "[MODEL]: {}"})
	require.Equal(t, "#10409\n[MODEL]: {}\nответ", fc.gotUser)
}

type fakeReader struct {
	text string
	err  error
	mime string
}

func (f *fakeReader) Name() string { return "fake-vision" }
func (f *fakeReader) ReadImage(_ context.Context, _, mime string, _ []byte) (string, error) {
	f.mime = mime
	return f.text, f.err
}
func (f *fakeReader) Ping(context.Context) error { return nil }

func TestAnalyzeImageErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0o644))

	text, err := NewVision(&fakeReader{text: " #10409 годно "}, "prompt", nil).AnalyzeImage(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "#10409 годно", text)

	_, err = NewVision(&fakeReader{err: errors.New("503")}, "prompt", nil).AnalyzeImage(context.Background(), path)
	require.True(t, apperr.Is(err, apperr.KindUnavailable))

	_, err = NewVision(&fakeReader{text: "  "}, "prompt", nil).AnalyzeImage(context.Background(), path)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.NotEmpty(t, apperr.UserMessage(err))
}

type fakePreparer struct {
	fakeCompleter
	calls int
	err   error
}

func (f *fakePreparer) EnsureReady(context.Context) error {
	f.calls++
	return f.err
}

func TestRegistry(t *testing.T) {
	prep := &fakePreparer{err: errors.New("pull failed")}
	reg := &Registry{
		Text:   NewText(prep, "sys", ParseOptions{}, nil),
		Vision: NewVision(&fakeReader{}, "p", nil),
	}
	err := reg.EnsureReady(context.Background())
	require.ErrorContains(t, err, "pull failed")
	require.Equal(t, 1, prep.calls)

	prep.pingErr = errors.New("down")
	require.Equal(t, Availability{Text: false, Vision: true, Speech: false}, reg.Availability(context.Background()))
}

func TestLoadPromptsSchemaPlaceholder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SystemPromptFile), []byte("Извлеки заказы.\n{format_instructions}"), 0o644))

	p := LoadPrompts(dir)
	require.Contains(t, p.System, `"requires_correction"`)
	require.NotContains(t, p.System, "{format_instructions}")
	require.Contains(t, p.Vision, "протокола ОТК")

	def := DefaultPrompts()
	require.Contains(t, def.System, `"clarification_question"`)
}
