package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/report"
)

// Callback data inline-кнопок.
const (
	CbConfirm       = "confirm_data"
	CbCorrect       = "correct_data"
	CbStop          = "stop_processing"
	CbCancelData    = "cancel_data" // старая клавиатура подтверждения
	CbConfirmCancel = "confirm_cancel"
	CbBack          = "back_to_validation"
	CbSummaryToday  = "report_summary_today"
	CbSummaryWeek   = "report_summary_week"
	CbDataToday     = "report_data_today"
	CbDataWeek      = "report_data_week"
	CbXLSXWeek      = "report_xlsx_week"
	CbExitReports   = "exit_reports"
)

func (p *Pipeline) callback(ctx context.Context, ev Event) Reply {
	switch ev.Text {
	case CbConfirm:
		return p.confirm(ctx, ev)
	case CbCorrect:
		return p.correct(ctx, ev)
	case CbStop, CbCancelData:
		return p.cancel(ctx, ev)
	case CbConfirmCancel:
		return p.confirmCancel(ctx, ev)
	case CbBack:
		return p.back(ctx, ev)
	case CbSummaryToday, CbSummaryWeek, CbDataToday, CbDataWeek, CbXLSXWeek:
		return p.runReport(ctx, ev)
	case CbExitReports:
		return p.exitReports(ctx, ev)
	}
	p.log.Warn("unknown callback", zap.Int64("user_id", ev.UserID), zap.String("data", ev.Text))
	return Reply{}
}

// confirm защищён меткой "занят": двойное нажатие сохраняет один раз.
func (p *Pipeline) confirm(ctx context.Context, ev Event) Reply {
	if !p.sessions.Begin(ev.UserID) {
		return Reply{Text: MsgBusy}
	}
	defer p.sessions.End(ev.UserID)

	res, err := p.transition(ctx, ev.UserID, p.sessions.State(ev.UserID), fsm.Idle, fsm.With(fsm.UserConfirmed))
	switch {
	case err == nil:
		return Reply{Text: FormatSaved(res.Saved), Keyboard: KbMain}
	case apperr.Is(err, apperr.KindIllegalTransition):
		return Reply{Text: MsgNothingToConfirm, Keyboard: KbMain}
	case apperr.Is(err, apperr.KindValidation):
		return Reply{Text: MsgNoStatus, Keyboard: KbConfirmation}
	default:
		return Reply{Text: MsgSaveFailed, Keyboard: KbConfirmation}
	}
}

func (p *Pipeline) correct(ctx context.Context, ev Event) Reply {
	_, err := p.transition(ctx, ev.UserID, p.sessions.State(ev.UserID), fsm.Idle, fsm.With(fsm.UserRejected))
	if apperr.Is(err, apperr.KindIllegalTransition) {
		return Reply{Text: MsgNothingToConfirm, Keyboard: KbMain}
	}
	if err != nil {
		return Reply{Text: MsgInternal}
	}
	return Reply{Text: MsgCorrect, Keyboard: KbMain}
}

// cancel: кнопка "СТОП / ОТМЕНА" и /cancel.
func (p *Pipeline) cancel(ctx context.Context, ev Event) Reply {
	if _, err := p.transition(ctx, ev.UserID, p.sessions.State(ev.UserID), fsm.Cancellation, fsm.With(fsm.UserCancelled)); err != nil {
		return Reply{Text: MsgNothingToCancel}
	}
	return Reply{Text: MsgCancelAsk, Keyboard: KbCancellation}
}

func (p *Pipeline) confirmCancel(ctx context.Context, ev Event) Reply {
	_, err := p.transition(ctx, ev.UserID, p.sessions.State(ev.UserID), fsm.Idle, fsm.With(fsm.CancellationConfirmed))
	if apperr.Is(err, apperr.KindIllegalTransition) {
		return Reply{Text: MsgNothingToCancel, Keyboard: KbMain}
	}
	if err != nil {
		return Reply{Text: MsgInternal}
	}
	return Reply{Text: MsgCancelled, Keyboard: KbMain}
}

// back возвращает из отмены в previous_state и заново показывает его экран.
func (p *Pipeline) back(ctx context.Context, ev Event) Reply {
	sess, ok := p.sessions.Get(ev.UserID)
	if !ok {
		return Reply{Text: MsgNothingToCancel, Keyboard: KbMain}
	}
	prev := sess.PreviousState
	c := fsm.With(fsm.ReturnToPrevious).WithPrevious(prev)
	if _, err := p.transition(ctx, ev.UserID, sess.CurrentState, prev, c); err != nil {
		return Reply{Text: MsgNothingToCancel, Keyboard: KbMain}
	}
	question, _ := sess.PendingData["question"].(string)
	return p.render(prev, question, sess.ExtractedOrders)
}

// ---- отчёты ----

func (p *Pipeline) openReports(ctx context.Context, ev Event) Reply {
	p.ensureSession(ctx, ev)
	st := p.sessions.State(ev.UserID)
	if st == fsm.ReportsMenu {
		return Reply{Text: MsgReportsMenu, Keyboard: KbReports}
	}
	if _, err := p.transition(ctx, ev.UserID, st, fsm.ReportsMenu, fsm.With(fsm.RequestedReports)); err != nil {
		return Reply{Text: MsgReportsBusy}
	}
	return Reply{Text: MsgReportsMenu, Keyboard: KbReports}
}

func (p *Pipeline) runReport(ctx context.Context, ev Event) Reply {
	// меню могло истечь вместе с сессией: открываем заново
	if p.sessions.State(ev.UserID) == fsm.Idle {
		p.openReports(ctx, ev)
	}
	if _, err := p.transition(ctx, ev.UserID, p.sessions.State(ev.UserID), fsm.ReportProcessing, fsm.With(fsm.ReportSelected)); err != nil {
		return Reply{Text: MsgReportsBusy}
	}
	reply := p.buildReport(ctx, ev.UserID, ev.Text)
	if _, err := p.transition(ctx, ev.UserID, fsm.ReportProcessing, fsm.ReportsMenu, fsm.With(fsm.ReportCompleted)); err != nil {
		return Reply{Text: MsgInternal}
	}
	reply.Keyboard = KbReports
	return reply
}

func (p *Pipeline) buildReport(ctx context.Context, userID int64, data string) Reply {
	if p.reports == nil {
		return Reply{Text: MsgReportFailed}
	}
	var (
		text, path string
		err        error
	)
	switch data {
	case CbSummaryToday:
		text, err = p.reports.Summary(ctx, userID, report.Day)
	case CbSummaryWeek:
		text, err = p.reports.Summary(ctx, userID, report.Week)
	case CbDataToday:
		path, err = p.reports.CSV(ctx, userID, report.Day)
	case CbDataWeek:
		path, err = p.reports.CSV(ctx, userID, report.Week)
	case CbXLSXWeek:
		path, err = p.reports.XLSX(ctx, userID, report.Week)
	}
	switch {
	case errors.Is(err, report.ErrEmpty):
		return Reply{Text: MsgReportEmpty}
	case err != nil:
		p.log.Error("report failed", zap.Int64("user_id", userID), zap.String("report", data), zap.Error(err))
		return Reply{Text: MsgReportFailed}
	case path != "":
		return Reply{Text: "📄 Отчет готов", Attachment: path}
	}
	return Reply{Text: text}
}

func (p *Pipeline) exitReports(ctx context.Context, ev Event) Reply {
	st := p.sessions.State(ev.UserID)
	if _, err := p.transition(ctx, ev.UserID, st, fsm.Idle, fsm.With(fsm.ExitReports)); err != nil && st != fsm.Idle {
		return Reply{Text: MsgReportsBusy}
	}
	p.sessions.Clear(ev.UserID)
	return Reply{Text: MsgReportsExit, Keyboard: KbMain}
}
