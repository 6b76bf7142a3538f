package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/media"
	"otk-bot/api/internal/report"
	"otk-bot/api/internal/session"
)

type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
)

// Event: входящее событие от транспорта.
// Для медиа Fetch скачивает файл; вызывается только после проверки метаданных.
type Event struct {
	UserID   int64
	UserName string
	Kind     Kind
	Text     string // текст, имя команды без "/" или callback data
	FileName string
	MimeType string
	Size     int64
	Duration int // секунды, для голосовых
	Fetch    func(ctx context.Context) ([]byte, error)
}

type Keyboard string

const (
	KbNone          Keyboard = ""
	KbMain          Keyboard = "main"
	KbProcessing    Keyboard = "processing"
	KbClarification Keyboard = "clarification"
	KbConfirmation  Keyboard = "confirmation"
	KbCancellation  Keyboard = "cancellation"
	KbReports       Keyboard = "reports"
)

// Reply: ответ пользователю. Пустой Text без Attachment значит ничего не отправлять.
type Reply struct {
	Text       string
	Keyboard   Keyboard
	Attachment string
}

func (r Reply) Empty() bool { return r.Text == "" && r.Attachment == "" }

// Records: хранилище проверок и журнала диалогов.
type Records interface {
	EnsureUser(ctx context.Context, telegramID int64, name string) error
	SaveRecords(ctx context.Context, userID int64, sessionID string, orders []llm.OrderRecord) (int, error)
	SaveDialogue(ctx context.Context, sessionID string, userID int64, userMessage, llmResponse string) error
	ConfirmDialogues(ctx context.Context, sessionID string) (int64, error)
	DeletePendingDialogues(ctx context.Context, sessionID string) (int64, error)
}

type Reports interface {
	Summary(ctx context.Context, userID int64, p report.Period) (string, error)
	CSV(ctx context.Context, userID int64, p report.Period) (string, error)
	XLSX(ctx context.Context, userID int64, p report.Period) (string, error)
}

type Media interface {
	CheckImageSize(size int64) error
	CheckAudioSize(size int64) error
	CheckAudioDuration(seconds int) error
	SaveAudio(data []byte, filename string, userID int64) (string, error)
	SavePhoto(data []byte, filename string, userID int64) (string, error)
	ValidateImage(path string) (media.ImageInfo, error)
	Stats() media.Stats
}

type Pipeline struct {
	sessions *session.Store
	machine  *fsm.Machine
	clients  *llm.Registry
	records  Records
	reports  Reports
	media    Media
	log      *zap.Logger
}

func New(sessions *session.Store, clients *llm.Registry, records Records, reports Reports, m Media, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if clients == nil {
		clients = &llm.Registry{}
	}
	p := &Pipeline{
		sessions: sessions,
		clients:  clients,
		records:  records,
		reports:  reports,
		media:    m,
		log:      log.Named("pipeline"),
	}
	p.machine = fsm.New(p, log)
	return p
}

// Handle: единая точка входа. Паники одного пользователя не роняют обработчик.
func (p *Pipeline) Handle(ctx context.Context, ev Event) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", zap.Int64("user_id", ev.UserID), zap.Any("panic", r))
			reply = Reply{Text: MsgInternal, Keyboard: KbMain}
		}
	}()

	start := time.Now()
	switch ev.Kind {
	case KindCommand:
		reply = p.command(ctx, ev)
	case KindCallback:
		reply = p.callback(ctx, ev)
	case KindText:
		reply = p.text(ctx, ev)
	case KindVoice:
		reply = p.voice(ctx, ev)
	case KindPhoto, KindDocument:
		reply = p.image(ctx, ev)
	default:
		reply = Reply{Text: MsgUnsupported}
	}
	p.log.Debug("event handled",
		zap.Int64("user_id", ev.UserID),
		zap.String("kind", string(ev.Kind)),
		zap.Duration("took", time.Since(start)))
	return reply
}

// ensureSession открывает сессию и регистрирует пользователя при первом обращении.
func (p *Pipeline) ensureSession(ctx context.Context, ev Event) string {
	id, created := p.sessions.GetOrCreate(ev.UserID)
	if created {
		p.ensureUser(ctx, ev)
	}
	return id
}

func (p *Pipeline) ensureUser(ctx context.Context, ev Event) {
	if p.records == nil {
		return
	}
	if err := p.records.EnsureUser(ctx, ev.UserID, ev.UserName); err != nil {
		p.log.Error("ensure user", zap.Int64("user_id", ev.UserID), zap.Error(err))
	}
}

// ---- fsm.Actions ----

var errNoRecords = errors.New("records store not configured")

// Persist сохраняет извлечённые заказы и закрывает сессию.
// При ошибке сессия остаётся как есть, чтобы пользователь мог повторить.
func (p *Pipeline) Persist(ctx context.Context, userID int64) (int, error) {
	sess, ok := p.sessions.Get(userID)
	if !ok {
		return 0, apperr.New(apperr.KindNotFound, "no session", nil)
	}
	if p.records == nil {
		return 0, apperr.Persistence("save records", errNoRecords)
	}
	n, err := p.records.SaveRecords(ctx, userID, sess.ID, sess.ExtractedOrders)
	if err != nil {
		return 0, err
	}
	if _, err := p.records.ConfirmDialogues(ctx, sess.ID); err != nil {
		p.log.Error("confirm dialogues", zap.String("session_id", sess.ID), zap.Error(err))
	}
	p.sessions.Clear(userID)
	p.log.Info("inspections saved", zap.Int64("user_id", userID), zap.String("session_id", sess.ID), zap.Int("count", n))
	return n, nil
}

// Discard удаляет несохранённое и закрывает сессию. Повторный вызов безопасен.
func (p *Pipeline) Discard(ctx context.Context, userID int64) error {
	sess, ok := p.sessions.Get(userID)
	if !ok {
		return nil
	}
	if p.records != nil {
		if _, err := p.records.DeletePendingDialogues(ctx, sess.ID); err != nil {
			return err
		}
	}
	p.sessions.Clear(userID)
	p.log.Info("session discarded", zap.Int64("user_id", userID), zap.String("session_id", sess.ID))
	return nil
}

var _ fsm.Actions = (*Pipeline)(nil)

// transition проверяет переход, выполняет действие и фиксирует состояние.
// Фиксация через compare-and-set: если сессия успела уйти из from, переход не состоялся.
func (p *Pipeline) transition(ctx context.Context, userID int64, from, to fsm.State, c fsm.Context) (fsm.Result, error) {
	res, err := p.machine.Execute(ctx, userID, from, to, c)
	if err != nil {
		return res, err
	}
	if res.Action == fsm.NoAction && !p.sessions.Transition(userID, from, to) {
		p.log.Warn("transition lost: state changed",
			zap.Int64("user_id", userID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("current", string(p.sessions.State(userID))))
		return fsm.Result{}, apperr.New(apperr.KindIllegalTransition,
			fmt.Sprintf("%s -> %s: state changed", from, to), nil)
	}
	return res, nil
}
