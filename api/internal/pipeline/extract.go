package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/session"
)

// acceptsInput: можно ли в этом состоянии начать извлечение.
// processing без активной обработки: пользователь вернулся из отмены и шлёт данные заново.
func acceptsInput(st fsm.State) bool {
	return st == fsm.Idle || st == fsm.Clarification || st == fsm.Processing
}

// inputHint: ответ на ввод в состоянии, где новые данные не принимаются.
func inputHint(st fsm.State) Reply {
	switch st {
	case fsm.Confirmation:
		return Reply{Text: MsgUseButtons, Keyboard: KbConfirmation}
	case fsm.Cancellation:
		return Reply{Text: MsgUseCancelButtons, Keyboard: KbCancellation}
	case fsm.ReportsMenu, fsm.ReportProcessing:
		return Reply{Text: MsgUseReportButtons, Keyboard: KbReports}
	}
	return Reply{Text: MsgInternal}
}

func (p *Pipeline) text(ctx context.Context, ev Event) Reply {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Reply{Text: MsgEmptyText}
	}
	if text == ReportsButton {
		return p.openReports(ctx, ev)
	}
	if !p.sessions.Begin(ev.UserID) {
		return Reply{Text: MsgBusy}
	}
	defer p.sessions.End(ev.UserID)

	p.ensureSession(ctx, ev)
	if st := p.sessions.State(ev.UserID); !acceptsInput(st) {
		return inputHint(st)
	}
	return p.extract(ctx, ev.UserID, text, text)
}

func (p *Pipeline) voice(ctx context.Context, ev Event) Reply {
	if !p.sessions.Begin(ev.UserID) {
		return Reply{Text: MsgBusy}
	}
	defer p.sessions.End(ev.UserID)

	p.ensureSession(ctx, ev)
	if st := p.sessions.State(ev.UserID); !acceptsInput(st) {
		return inputHint(st)
	}
	if p.clients.Speech == nil || !p.clients.Speech.IsAvailable(ctx) {
		p.log.Warn("speech provider unavailable", zap.Int64("user_id", ev.UserID))
		return Reply{Text: MsgUnavailable}
	}
	if err := p.media.CheckAudioDuration(ev.Duration); err != nil {
		return p.failure(ev.UserID, err)
	}
	if err := p.media.CheckAudioSize(ev.Size); err != nil {
		return p.failure(ev.UserID, err)
	}
	data, err := p.fetch(ctx, ev)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	name := ev.FileName
	if filepath.Ext(name) == "" {
		name += ".ogg" // голосовые Telegram в ogg/opus
	}
	path, err := p.media.SaveAudio(data, name, ev.UserID)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	transcript, err := p.clients.Speech.TranscribeAudio(ctx, path)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	return withSource(p.extract(ctx, ev.UserID, transcript, TagVoice+transcript), "🎤 <b>Распознано:</b>", transcript)
}

func (p *Pipeline) image(ctx context.Context, ev Event) Reply {
	if ev.Kind == KindDocument && !strings.HasPrefix(ev.MimeType, "image/") {
		return Reply{Text: MsgNotImage}
	}
	if !p.sessions.Begin(ev.UserID) {
		return Reply{Text: MsgBusy}
	}
	defer p.sessions.End(ev.UserID)

	p.ensureSession(ctx, ev)
	if st := p.sessions.State(ev.UserID); !acceptsInput(st) {
		return inputHint(st)
	}
	if p.clients.Vision == nil || !p.clients.Vision.IsAvailable(ctx) {
		p.log.Warn("vision provider unavailable", zap.Int64("user_id", ev.UserID))
		return Reply{Text: MsgUnavailable}
	}
	if err := p.media.CheckImageSize(ev.Size); err != nil {
		return p.failure(ev.UserID, err)
	}
	data, err := p.fetch(ctx, ev)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	name := ev.FileName
	if filepath.Ext(name) == "" {
		name += ".jpg" // фото Telegram всегда jpeg
	}
	path, err := p.media.SavePhoto(data, name, ev.UserID)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	if _, err := p.media.ValidateImage(path); err != nil {
		return p.failure(ev.UserID, err)
	}
	text, err := p.clients.Vision.AnalyzeImage(ctx, path)
	if err != nil {
		return p.failure(ev.UserID, err)
	}
	tag, title := TagPhoto, "📸 <b>Текст с фото:</b>"
	if ev.Kind == KindDocument {
		tag, title = TagDocument, "📄 <b>Текст документа:</b>"
	}
	return withSource(p.extract(ctx, ev.UserID, text, tag+text), title, text)
}

// withSource показывает распознанный текст над ответом.
func withSource(r Reply, title, text string) Reply {
	if r.Empty() {
		return r
	}
	r.Text = FormatRecognized(title, text) + "\n\n" + r.Text
	return r
}

func (p *Pipeline) fetch(ctx context.Context, ev Event) ([]byte, error) {
	if ev.Fetch == nil {
		return nil, apperr.New(apperr.KindInternal, "no file", nil)
	}
	data, err := ev.Fetch(ctx)
	if err != nil {
		return nil, apperr.Unavailable("download file", err)
	}
	return data, nil
}

// failure: ошибка до извлечения, состояние не меняется, пользователь может повторить.
func (p *Pipeline) failure(userID int64, err error) Reply {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		p.log.Info("input rejected", zap.Int64("user_id", userID), zap.Error(err))
		return Reply{Text: apperr.UserMessage(err)}
	case apperr.KindUnavailable:
		p.log.Error("provider failed", zap.Int64("user_id", userID), zap.Error(err))
		return Reply{Text: MsgUnavailable}
	default:
		p.log.Error("input failed", zap.Int64("user_id", userID), zap.Error(err))
		return Reply{Text: MsgInternal}
	}
}

// extract прогоняет текст через модель и переводит сессию в уточнение или подтверждение.
// Вызывается под меткой "занят"; блокировка хранилища на время вызова модели не держится.
func (p *Pipeline) extract(ctx context.Context, userID int64, text, tagged string) Reply {
	if p.clients.Text == nil {
		return Reply{Text: MsgUnavailable}
	}
	sess, ok := p.sessions.Get(userID)
	if !ok {
		return Reply{Text: MsgInternal}
	}

	switch sess.CurrentState {
	case fsm.Idle:
		if _, err := p.transition(ctx, userID, fsm.Idle, fsm.Processing, fsm.With(fsm.HasInputData)); err != nil {
			return Reply{Text: MsgInternal}
		}
	case fsm.Clarification:
		if _, err := p.transition(ctx, userID, fsm.Clarification, fsm.Processing, fsm.With(fsm.ClarificationProvided)); err != nil {
			return Reply{Text: MsgInternal}
		}
	}

	history := append([]string(nil), sess.Messages...)
	p.sessions.AddMessage(userID, tagged)

	res := p.clients.Text.ProcessText(ctx, text, history)
	raw, _ := json.Marshal(res)

	// за время вызова пользователь мог отменить проверку или уже закрыть сессию
	after, ok := p.sessions.Get(userID)
	if !ok || after.ID != sess.ID {
		p.log.Info("result dropped: session closed", zap.Int64("user_id", userID))
		return Reply{}
	}
	p.sessions.AddMessage(userID, TagModel+string(raw))
	if p.records != nil {
		if err := p.records.SaveDialogue(ctx, sess.ID, userID, tagged, string(raw)); err != nil {
			p.log.Error("save dialogue", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	next, guard := p.outcome(res)
	var pending map[string]any
	if next == fsm.Clarification {
		pending = map[string]any{"question": res.Question()}
	}
	// ребро processing -> next проверяется заранее; состояние фиксирует Resolve,
	// сверяя его с текущим под блокировкой хранилища
	if !fsm.CanTransition(fsm.Processing, next, fsm.With(guard)) {
		p.log.Error("no edge for result", zap.String("to", string(next)))
		return Reply{Text: MsgInternal}
	}
	switch p.sessions.Resolve(userID, sess.ID, next, res.Orders, pending) {
	case session.Resolved:
		return p.render(next, res.Question(), res.Orders)
	case session.Deferred:
		// отмена во время обработки: результат станет точкой возврата по кнопке "Назад"
		p.log.Info("result deferred: cancellation pending", zap.Int64("user_id", userID))
	default:
		p.log.Info("result dropped: state changed", zap.Int64("user_id", userID))
	}
	return Reply{}
}

func (p *Pipeline) outcome(res llm.ExtractionResult) (fsm.State, fsm.Guard) {
	switch {
	case res.RequiresCorrection:
		return fsm.Clarification, fsm.RequiresClarification
	case len(res.Orders) == 0:
		return fsm.Idle, fsm.ProcessingFailed
	default:
		return fsm.Confirmation, fsm.DataExtracted
	}
}

// render: экран состояния после извлечения или возврата из отмены.
func (p *Pipeline) render(st fsm.State, question string, orders []llm.OrderRecord) Reply {
	switch st {
	case fsm.Clarification:
		if strings.TrimSpace(question) == "" {
			question = llm.MsgNeedDetails
		}
		return Reply{Text: FormatQuestion(question, orders), Keyboard: KbClarification}
	case fsm.Confirmation:
		return Reply{Text: FormatOrders(orders), Keyboard: KbConfirmation}
	case fsm.Processing:
		return Reply{Text: MsgContinue, Keyboard: KbProcessing}
	default:
		return Reply{Text: MsgNothingFound, Keyboard: KbMain}
	}
}
