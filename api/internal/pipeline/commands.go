package pipeline

import (
	"context"

	"otk-bot/api/internal/media"
)

func (p *Pipeline) command(ctx context.Context, ev Event) Reply {
	switch ev.Text {
	case "start":
		p.sessions.Reset(ev.UserID)
		p.ensureUser(ctx, ev)
		return Reply{Text: MsgWelcome, Keyboard: KbMain}
	case "help":
		return Reply{Text: MsgHelp, Keyboard: KbMain}
	case "status":
		return Reply{Text: p.status(ctx, ev.UserID)}
	case "cancel":
		return p.cancel(ctx, ev)
	}
	return Reply{Text: MsgUnknownCommand}
}

func (p *Pipeline) status(ctx context.Context, userID int64) string {
	a := p.clients.Availability(ctx)
	caps := []capability{
		{Title: "Анализ текста", OK: a.Text},
		{Title: "Анализ изображений", OK: a.Vision},
		{Title: "Распознавание речи", OK: a.Speech},
	}
	if p.clients.Text != nil {
		caps[0].Provider = p.clients.Text.Name()
	}
	if p.clients.Vision != nil {
		caps[1].Provider = p.clients.Vision.Name()
	}
	if p.clients.Speech != nil {
		caps[2].Provider = p.clients.Speech.Name()
	}
	var st media.Stats
	if p.media != nil {
		st = p.media.Stats()
	}
	return formatStatus(userID, p.sessions.State(userID), caps, st)
}
