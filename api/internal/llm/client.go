package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
	"otk-bot/api/internal/logger"
	"otk-bot/api/internal/util"
)

// Контракты для оркестратора.

type TextClient interface {
	Name() string
	// ProcessText не возвращает ошибок: при сбое провайдера результат с requires_correction.
	ProcessText(ctx context.Context, text string, history []string) ExtractionResult
	IsAvailable(ctx context.Context) bool
}

type VisionClient interface {
	Name() string
	AnalyzeImage(ctx context.Context, path string) (string, error)
	IsAvailable(ctx context.Context) bool
}

type SpeechClient interface {
	Name() string
	TranscribeAudio(ctx context.Context, path string) (string, error)
	IsAvailable(ctx context.Context) bool
}

// Preparer: бэкенду нужна подготовка перед первым вызовом (например, скачать модель).
type Preparer interface {
	EnsureReady(ctx context.Context) error
}

// Контракты для бэкендов: только транспорт.

type Completer interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, user string) (string, error)
	Ping(ctx context.Context) error
}

type ImageReader interface {
	Name() string
	ReadImage(ctx context.Context, prompt, mime string, data []byte) (string, error)
	Ping(ctx context.Context) error
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, filename string, data []byte, lang string) (string, error)
	Ping(ctx context.Context) error
}

// ------------------------------ Text ------------------------------

type Text struct {
	backend Completer
	system  string
	opt     ParseOptions
	log     *zap.Logger
}

func NewText(backend Completer, system string, opt ParseOptions, log *zap.Logger) *Text {
	if log == nil {
		log = zap.NewNop()
	}
	return &Text{backend: backend, system: system, opt: opt, log: log.Named("text").With(zap.String("provider", backend.Name()))}
}

func (t *Text) Name() string { return t.backend.Name() }

func (t *Text) ProcessText(ctx context.Context, text string, history []string) (res ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("process text panic", zap.Any("panic", r))
			res = Fallback(MsgProviderError)
		}
	}()

	parts := make([]string, 0, len(history)+1)
	parts = append(parts, history...)
	parts = append(parts, text)
	full := strings.Join(parts, "\n")

	t.log.Info("llm request", zap.String("model", t.backend.Model()), zap.Int("chars", len([]rune(full))))
	raw, err := t.backend.Complete(ctx, t.system, full)
	if err != nil {
		t.log.Error("llm call failed", zap.Error(err), zap.Int("status", StatusCode(err)))
		return Fallback(MsgProviderError)
	}

	res, tr := ParseTrace(raw, t.opt)
	if tr.Stage != StageStrict {
		t.log.Warn("llm response fallback",
			zap.String("stage", string(tr.Stage)),
			zap.String("reason", tr.Reason),
			zap.String("raw", logger.Truncate(raw, 500)))
	}
	t.log.Info("llm response parsed", zap.Int("orders", len(res.Orders)), zap.Bool("requires_correction", res.RequiresCorrection))
	return res
}

func (t *Text) IsAvailable(ctx context.Context) bool {
	if err := t.backend.Ping(ctx); err != nil {
		t.log.Warn("text provider unavailable", zap.Error(err))
		return false
	}
	return true
}

// EnsureReady пробрасывается бэкенду, если он это умеет.
func (t *Text) EnsureReady(ctx context.Context) error {
	if p, ok := t.backend.(Preparer); ok {
		return p.EnsureReady(ctx)
	}
	return nil
}

// ------------------------------ Vision ------------------------------

type Vision struct {
	backend ImageReader
	prompt  string
	log     *zap.Logger
}

func NewVision(backend ImageReader, prompt string, log *zap.Logger) *Vision {
	if log == nil {
		log = zap.NewNop()
	}
	return &Vision{backend: backend, prompt: prompt, log: log.Named("vision").With(zap.String("provider", backend.Name()))}
}

func (v *Vision) Name() string { return v.backend.Name() }

func (v *Vision) AnalyzeImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.New(apperr.KindInternal, "read image", err)
	}
	mime := util.PickMIME("", path, data)
	v.log.Info("vision request", zap.String("file", filepath.Base(path)), zap.Int("bytes", len(data)), zap.String("mime", mime))

	text, err := v.backend.ReadImage(ctx, v.prompt, mime, data)
	if err != nil {
		v.log.Error("vision call failed", zap.Error(err), zap.Int("status", StatusCode(err)))
		return "", apperr.Unavailable("vision", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("📷 Не удалось распознать текст на изображении. Попробуйте сделать более чёткое фото.")
	}
	v.log.Info("vision response", zap.Int("chars", len([]rune(text))))
	return text, nil
}

func (v *Vision) IsAvailable(ctx context.Context) bool {
	if err := v.backend.Ping(ctx); err != nil {
		v.log.Warn("vision provider unavailable", zap.Error(err))
		return false
	}
	return true
}

// ------------------------------ Speech ------------------------------

type Speech struct {
	backend Transcriber
	lang    string
	log     *zap.Logger
}

func NewSpeech(backend Transcriber, lang string, log *zap.Logger) *Speech {
	if log == nil {
		log = zap.NewNop()
	}
	if lang == "" {
		lang = "ru"
	}
	return &Speech{backend: backend, lang: lang, log: log.Named("speech").With(zap.String("provider", backend.Name()))}
}

func (s *Speech) Name() string { return s.backend.Name() }

func (s *Speech) TranscribeAudio(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.New(apperr.KindInternal, "read audio", err)
	}
	s.log.Info("speech request", zap.String("file", filepath.Base(path)), zap.Int("bytes", len(data)))

	text, err := s.backend.Transcribe(ctx, filepath.Base(path), data, s.lang)
	if err != nil {
		s.log.Error("speech call failed", zap.Error(err), zap.Int("status", StatusCode(err)))
		return "", apperr.Unavailable("speech", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("🎤 Не удалось распознать речь. Попробуйте записать сообщение ещё раз, говорите чётче.")
	}
	return text, nil
}

func (s *Speech) IsAvailable(ctx context.Context) bool {
	if err := s.backend.Ping(ctx); err != nil {
		s.log.Warn("speech provider unavailable", zap.Error(err))
		return false
	}
	return true
}

var (
	_ TextClient   = (*Text)(nil)
	_ VisionClient = (*Vision)(nil)
	_ SpeechClient = (*Speech)(nil)
	_ Preparer     = (*Text)(nil)
)

// Describe: "provider/model" для логов и /status.
func Describe(c Completer) string {
	return fmt.Sprintf("%s/%s", c.Name(), c.Model())
}
