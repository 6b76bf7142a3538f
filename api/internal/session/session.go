package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/llm"
)

// Session: разговор одного пользователя от первого сообщения до подтверждения или отмены.
type Session struct {
	ID              string
	UserID          int64
	CurrentState    fsm.State
	PreviousState   fsm.State
	Messages        []string
	ExtractedOrders []llm.OrderRecord
	PendingData     map[string]any
	CreatedAt       time.Time
	LastActivity    time.Time
}

func newSession(userID int64, now time.Time) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CurrentState: fsm.Idle,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = append([]string(nil), s.Messages...)
	out.ExtractedOrders = copyOrders(s.ExtractedOrders)
	if s.PendingData != nil {
		out.PendingData = make(map[string]any, len(s.PendingData))
		for k, v := range s.PendingData {
			out.PendingData[k] = v
		}
	}
	return out
}

func copyOrders(in []llm.OrderRecord) []llm.OrderRecord {
	if in == nil {
		return nil
	}
	out := make([]llm.OrderRecord, len(in))
	for i, o := range in {
		out[i] = o
		if o.Comment != nil {
			c := *o.Comment
			out[i].Comment = &c
		}
	}
	return out
}

type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	timeout  time.Duration
	now      func() time.Time
	inflight *cache.Cache
	log      *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithInflightTTL: через сколько метка "занят" снимается сама, если обработчик не вызвал End.
func WithInflightTTL(d time.Duration) Option {
	return func(s *Store) { s.inflight = cache.New(d, time.Minute) }
}

func NewStore(timeout time.Duration, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		sessions: make(map[int64]*Session),
		timeout:  timeout,
		now:      time.Now,
		inflight: cache.New(5*time.Minute, time.Minute),
		log:      log.Named("session"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.timeout
}

// last_activity не убывает, даже если часы пошли назад
func touch(sess *Session, now time.Time) {
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
}

// live возвращает неистёкшую сессию; истёкшая удаляется. Вызывать под s.mu.
func (s *Store) live(userID int64, now time.Time) *Session {
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	if s.expired(sess, now) {
		delete(s.sessions, userID)
		s.log.Info("session expired", zap.Int64("user_id", userID), zap.String("session_id", sess.ID))
		return nil
	}
	return sess
}

// GetOrCreate возвращает id живой сессии или создаёт новую. created=true: сессия новая.
func (s *Store) GetOrCreate(userID int64) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess := s.live(userID, now); sess != nil {
		touch(sess, now)
		return sess.ID, false
	}
	sess := newSession(userID, now)
	s.sessions[userID] = sess
	s.log.Debug("session created", zap.Int64("user_id", userID), zap.String("session_id", sess.ID))
	return sess.ID, true
}

// Reset всегда начинает новую сессию (команда /start).
func (s *Store) Reset(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := newSession(userID, s.now())
	s.sessions[userID] = sess
	return sess.ID
}

// Get: копия сессии; изменения копии на хранилище не влияют.
func (s *Store) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(userID, s.now())
	if sess == nil {
		return Session{}, false
	}
	return sess.clone(), true
}

// State: текущее состояние, без сессии idle.
func (s *Store) State(userID int64) fsm.State {
	if sess, ok := s.Get(userID); ok {
		return sess.CurrentState
	}
	return fsm.Idle
}

func (s *Store) update(userID int64, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := s.live(userID, now)
	if sess == nil {
		return false
	}
	fn(sess)
	touch(sess, now)
	return true
}

func (s *Store) AddMessage(userID int64, msg string) bool {
	return s.update(userID, func(sess *Session) {
		sess.Messages = append(sess.Messages, msg)
	})
}

// SetExtractedOrders заменяет результат целиком.
func (s *Store) SetExtractedOrders(userID int64, orders []llm.OrderRecord) bool {
	cp := copyOrders(orders)
	return s.update(userID, func(sess *Session) {
		sess.ExtractedOrders = cp
	})
}

// SetPendingData заменяет pending_data; nil очищает.
func (s *Store) SetPendingData(userID int64, data map[string]any) bool {
	var cp map[string]any
	if data != nil {
		cp = make(map[string]any, len(data))
		for k, v := range data {
			cp[k] = v
		}
	}
	return s.update(userID, func(sess *Session) {
		sess.PendingData = cp
	})
}

// SetState: previous_state = текущее, current_state = state.
func (s *Store) SetState(userID int64, state fsm.State) bool {
	return s.update(userID, func(sess *Session) {
		sess.PreviousState = sess.CurrentState
		sess.CurrentState = state
	})
}

// Transition: compare-and-set. Состояние меняется, только если сессия всё ещё в from.
func (s *Store) Transition(userID int64, from, to fsm.State) bool {
	applied := false
	s.update(userID, func(sess *Session) {
		if sess.CurrentState != from {
			return
		}
		sess.PreviousState = sess.CurrentState
		sess.CurrentState = to
		applied = true
	})
	return applied
}

type Resolution int

const (
	// Resolved: processing -> to.
	Resolved Resolution = iota
	// Deferred: пользователь в отмене, начатой из processing; to стал точкой возврата.
	Deferred
	// Dropped: сессия закрыта, заменена или уже не ждёт результата.
	Dropped
)

// Resolve записывает результат обработки сессии sessionID одним шагом:
// заказы, pending_data и переход из processing в to.
func (s *Store) Resolve(userID int64, sessionID string, to fsm.State, orders []llm.OrderRecord, pending map[string]any) Resolution {
	cp := copyOrders(orders)
	var pd map[string]any
	if pending != nil {
		pd = make(map[string]any, len(pending))
		for k, v := range pending {
			pd[k] = v
		}
	}

	out := Dropped
	s.update(userID, func(sess *Session) {
		if sess.ID != sessionID {
			return
		}
		switch {
		case sess.CurrentState == fsm.Processing:
			sess.PreviousState = fsm.Processing
			sess.CurrentState = to
			out = Resolved
		case sess.CurrentState == fsm.Cancellation && sess.PreviousState == fsm.Processing:
			if to != fsm.Idle {
				sess.PreviousState = to
			}
			out = Deferred
		default:
			return
		}
		sess.ExtractedOrders = cp
		sess.PendingData = pd
	})
	return out
}

func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// SweepExpired удаляет истёкшие сессии, кроме тех, чья обработка ещё идёт.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for uid, sess := range s.sessions {
		if !s.expired(sess, now) || s.Busy(uid) {
			continue
		}
		delete(s.sessions, uid)
		n++
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunSweeper чистит хранилище раз в interval до отмены ctx.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.SweepExpired(); n > 0 {
				s.log.Info("expired sessions removed", zap.Int("count", n), zap.Int("active", s.Len()))
			}
		}
	}
}

// ---- обработка в полёте ----

func key(userID int64) string { return strconv.FormatInt(userID, 10) }

// Begin помечает пользователя занятым. false: предыдущее событие ещё обрабатывается.
func (s *Store) Begin(userID int64) bool {
	return s.inflight.Add(key(userID), s.now(), cache.DefaultExpiration) == nil
}

func (s *Store) End(userID int64) {
	s.inflight.Delete(key(userID))
}

func (s *Store) Busy(userID int64) bool {
	_, ok := s.inflight.Get(key(userID))
	return ok
}
