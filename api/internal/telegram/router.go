package telegram

import (
	"context"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"otk-bot/api/internal/pipeline"
)

// Bot: то, что нужно роутеру от *tgbotapi.BotAPI.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Handler interface {
	Handle(ctx context.Context, ev pipeline.Event) pipeline.Reply
}

type Router struct {
	Bot     Bot
	Handler Handler
	HTTP    *http.Client
	Log     *zap.Logger
}

func NewRouter(bot Bot, h Handler, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		Bot:     bot,
		Handler: h,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Log:     log.Named("telegram"),
	}
}

// Dispatch обрабатывает update в отдельной горутине: пока пользователь ждёт ответа модели,
// его "СТОП" и чужие сообщения не встают в очередь.
func (r *Router) Dispatch(ctx context.Context, upd tgbotapi.Update) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.Log.Error("update panic", zap.Int("update_id", upd.UpdateID), zap.Any("panic", rec))
			}
		}()
		r.HandleUpdate(ctx, upd)
	}()
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil || upd.Message.From == nil {
		return
	}
	msg := upd.Message
	ev := r.eventFromMessage(msg)
	if ev.Kind != pipeline.KindCommand {
		r.typing(msg.Chat.ID)
	}
	r.reply(msg.Chat.ID, r.Handler.Handle(ctx, ev))
}

func (r *Router) eventFromMessage(msg *tgbotapi.Message) pipeline.Event {
	ev := pipeline.Event{UserID: msg.From.ID, UserName: displayName(msg.From)}
	switch {
	case msg.IsCommand():
		ev.Kind, ev.Text = pipeline.KindCommand, msg.Command()
	case msg.Voice != nil:
		v := msg.Voice
		ev.Kind, ev.MimeType, ev.Size, ev.Duration = pipeline.KindVoice, v.MimeType, int64(v.FileSize), v.Duration
		ev.FileName = "voice"
		ev.Fetch = r.fetcher(v.FileID)
	case msg.Audio != nil:
		a := msg.Audio
		ev.Kind, ev.MimeType, ev.Size, ev.Duration = pipeline.KindVoice, a.MimeType, int64(a.FileSize), a.Duration
		ev.FileName = a.FileName
		ev.Fetch = r.fetcher(a.FileID)
	case len(msg.Photo) > 0:
		// берём самое большое превью
		ph := msg.Photo[len(msg.Photo)-1]
		ev.Kind, ev.Size, ev.FileName = pipeline.KindPhoto, int64(ph.FileSize), "photo.jpg"
		ev.Fetch = r.fetcher(ph.FileID)
	case msg.Document != nil:
		d := msg.Document
		ev.Kind, ev.MimeType, ev.Size, ev.FileName = pipeline.KindDocument, d.MimeType, int64(d.FileSize), d.FileName
		ev.Fetch = r.fetcher(d.FileID)
	case msg.Text != "":
		ev.Kind, ev.Text = pipeline.KindText, msg.Text
	}
	// стикеры, видео и прочее остаются без Kind: pipeline ответит "не поддерживается"
	return ev
}

func displayName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}

func (r *Router) typing(chatID int64) {
	if _, err := r.Bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		r.Log.Debug("chat action", zap.Error(err))
	}
}
