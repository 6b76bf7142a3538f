package fsm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
)

type State string

const (
	Idle             State = "idle"
	Processing       State = "processing"
	Clarification    State = "clarification"
	Confirmation     State = "confirmation"
	Cancellation     State = "cancellation"
	ReportsMenu      State = "reports_menu"
	ReportProcessing State = "report_processing"
)

// Guard: именованное условие перехода. Значение вычисляет вызывающий код.
type Guard string

const (
	HasInputData          Guard = "has_input_data"
	RequestedReports      Guard = "requested_reports"
	RequiresClarification Guard = "requires_clarification"
	DataExtracted         Guard = "data_extracted"
	UserCancelled         Guard = "user_cancelled"
	ProcessingFailed      Guard = "processing_failed"
	ClarificationProvided Guard = "clarification_provided"
	UserConfirmed         Guard = "user_confirmed"
	UserRejected          Guard = "user_rejected"
	CancellationConfirmed Guard = "cancellation_confirmed"
	ReturnToPrevious      Guard = "return_to_previous"
	ReportSelected        Guard = "report_selected"
	ExitReports           Guard = "exit_reports"
	ReportCompleted       Guard = "report_completed"
)

type Action string

const (
	NoAction Action = ""
	Persist  Action = "persist"
	Discard  Action = "discard"
)

// Context: флаги, которые выставил вызывающий код, и previous_state сессии.
type Context struct {
	Guards   map[Guard]bool
	Previous State
}

func With(guards ...Guard) Context {
	c := Context{Guards: make(map[Guard]bool, len(guards))}
	for _, g := range guards {
		c.Guards[g] = true
	}
	return c
}

func (c Context) WithPrevious(s State) Context {
	c.Previous = s
	return c
}

func (c Context) has(g Guard) bool { return c.Guards[g] }

type edge struct {
	from, to State
	guard    Guard
	action   Action
}

var edges = []edge{
	{Idle, Processing, HasInputData, NoAction},
	{Idle, ReportsMenu, RequestedReports, NoAction},

	{Processing, Clarification, RequiresClarification, NoAction},
	{Processing, Confirmation, DataExtracted, NoAction},
	{Processing, Cancellation, UserCancelled, NoAction},
	{Processing, Idle, ProcessingFailed, NoAction},

	{Clarification, Processing, ClarificationProvided, NoAction},
	{Clarification, Cancellation, UserCancelled, NoAction},

	{Confirmation, Idle, UserConfirmed, Persist},
	{Confirmation, Idle, UserRejected, Discard},
	{Confirmation, Cancellation, UserCancelled, NoAction},

	{Cancellation, Idle, CancellationConfirmed, Discard},
	{Cancellation, Processing, ReturnToPrevious, NoAction},
	{Cancellation, Clarification, ReturnToPrevious, NoAction},
	{Cancellation, Confirmation, ReturnToPrevious, NoAction},

	{ReportsMenu, ReportProcessing, ReportSelected, NoAction},
	{ReportsMenu, Idle, ExitReports, NoAction},

	{ReportProcessing, ReportsMenu, ReportCompleted, NoAction},
	{ReportProcessing, Idle, ExitReports, NoAction},
}

func (e edge) open(c Context) bool {
	if !c.has(e.guard) {
		return false
	}
	if e.guard == ReturnToPrevious {
		return c.Previous == e.to
	}
	return true
}

// match: первое ребро (from,to), чей guard истинен. Проверяются все рёбра пары.
func match(from, to State, c Context) (edge, bool) {
	for _, e := range edges {
		if e.from == from && e.to == to && e.open(c) {
			return e, true
		}
	}
	return edge{}, false
}

func CanTransition(from, to State, c Context) bool {
	_, ok := match(from, to, c)
	return ok
}

// Targets: состояния, в которые есть ребро из from (без учёта guard).
func Targets(from State) []State {
	var out []State
	seen := map[State]bool{}
	for _, e := range edges {
		if e.from == from && !seen[e.to] {
			seen[e.to] = true
			out = append(out, e.to)
		}
	}
	return out
}

// Available: переходы, открытые при данном контексте.
func Available(from State, c Context) []State {
	var out []State
	for _, to := range Targets(from) {
		if CanTransition(from, to, c) {
			out = append(out, to)
		}
	}
	return out
}

// Actions: побочные эффекты переходов из confirmation/cancellation.
// Persist возвращает число сохранённых записей.
type Actions interface {
	Persist(ctx context.Context, userID int64) (int, error)
	Discard(ctx context.Context, userID int64) error
}

type Result struct {
	From, To State
	Action   Action
	Saved    int // только для Persist
}

type Machine struct {
	actions Actions
	log     *zap.Logger
}

func New(actions Actions, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{actions: actions, log: log.Named("fsm")}
}

// Execute проверяет переход и выполняет его действие. Состояние сессии не меняет:
// это делает вызывающий код после успеха (действия Persist/Discard сами очищают сессию).
// Ошибка действия возвращается как есть, переход считается несостоявшимся.
func (m *Machine) Execute(ctx context.Context, userID int64, from, to State, c Context) (Result, error) {
	e, ok := match(from, to, c)
	if !ok {
		m.log.Warn("illegal transition",
			zap.Int64("user_id", userID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return Result{}, apperr.New(apperr.KindIllegalTransition,
			fmt.Sprintf("%s -> %s", from, to), nil)
	}
	res := Result{From: from, To: to, Action: e.action}
	if m.actions != nil {
		var err error
		switch e.action {
		case Persist:
			res.Saved, err = m.actions.Persist(ctx, userID)
		case Discard:
			err = m.actions.Discard(ctx, userID)
		}
		if err != nil {
			m.log.Error("transition action failed",
				zap.Int64("user_id", userID),
				zap.String("action", string(e.action)),
				zap.Error(err))
			return Result{}, err
		}
	}
	m.log.Debug("transition",
		zap.Int64("user_id", userID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return res, nil
}
