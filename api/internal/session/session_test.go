package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/llm"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(timeout time.Duration) (*Store, *clock) {
	c := &clock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	return NewStore(timeout, nil, WithClock(c.Now)), c
}

func TestGetOrCreate(t *testing.T) {
	s, c := newTestStore(15 * time.Minute)

	id1, created := s.GetOrCreate(7)
	require.True(t, created)
	require.NotEmpty(t, id1)

	c.Add(10 * time.Minute)
	id2, created := s.GetOrCreate(7)
	require.False(t, created)
	require.Equal(t, id1, id2)

	// таймаут считается от последней активности, а не от создания
	c.Add(10 * time.Minute)
	id3, _ := s.GetOrCreate(7)
	require.Equal(t, id1, id3)

	c.Add(15*time.Minute + time.Second)
	id4, created := s.GetOrCreate(7)
	require.True(t, created)
	require.NotEqual(t, id1, id4)

	sess, ok := s.Get(7)
	require.True(t, ok)
	require.Equal(t, fsm.Idle, sess.CurrentState)
	require.Empty(t, sess.Messages)
}

func TestExpiredTreatedAsAbsent(t *testing.T) {
	s, c := newTestStore(time.Minute)
	s.GetOrCreate(1)
	c.Add(2 * time.Minute)

	require.False(t, s.AddMessage(1, "x"))
	require.False(t, s.SetState(1, fsm.Processing))
	require.False(t, s.SetExtractedOrders(1, nil))
	require.False(t, s.SetPendingData(1, map[string]any{"q": "?"}))
	_, ok := s.Get(1)
	require.False(t, ok)
	require.Equal(t, fsm.Idle, s.State(1))
}

func TestMutationsWithoutSession(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	require.False(t, s.AddMessage(42, "x"))
	require.False(t, s.SetState(42, fsm.Processing))
	require.Zero(t, s.Len())
}

func TestLastActivityMonotonic(t *testing.T) {
	s, c := newTestStore(time.Hour)
	s.GetOrCreate(1)

	var prev time.Time
	steps := []time.Duration{time.Second, -30 * time.Second, time.Minute, 0, -time.Hour / 2, 2 * time.Second}
	for _, d := range steps {
		c.Add(d)
		require.True(t, s.AddMessage(1, "m"))
		sess, ok := s.Get(1)
		require.True(t, ok)
		require.False(t, sess.LastActivity.Before(prev), "last_activity went back")
		prev = sess.LastActivity
	}
}

func TestSetStateTracksPrevious(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	s.GetOrCreate(1)
	orders := []llm.OrderRecord{{OrderID: "10409", Status: llm.StatusRework}}
	require.True(t, s.SetState(1, fsm.Processing))
	require.True(t, s.SetExtractedOrders(1, orders))

	require.True(t, s.SetState(1, fsm.Cancellation))
	sess, _ := s.Get(1)
	require.Equal(t, fsm.Cancellation, sess.CurrentState)
	require.Equal(t, fsm.Processing, sess.PreviousState)

	// возврат из отмены туда, где пользователь был
	require.True(t, fsm.CanTransition(sess.CurrentState, sess.PreviousState,
		fsm.With(fsm.ReturnToPrevious).WithPrevious(sess.PreviousState)))
	require.True(t, s.SetState(1, sess.PreviousState))
	sess, _ = s.Get(1)
	require.Equal(t, fsm.Processing, sess.CurrentState)
	require.Equal(t, orders, sess.ExtractedOrders)
}

func TestTransitionCompareAndSet(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	s.GetOrCreate(1)

	require.True(t, s.Transition(1, fsm.Idle, fsm.Processing))
	require.False(t, s.Transition(1, fsm.Idle, fsm.Processing))
	require.True(t, s.SetState(1, fsm.Cancellation))
	require.False(t, s.Transition(1, fsm.Processing, fsm.Confirmation))

	sess, _ := s.Get(1)
	require.Equal(t, fsm.Cancellation, sess.CurrentState)
	require.Equal(t, fsm.Processing, sess.PreviousState)
	require.False(t, s.Transition(2, fsm.Idle, fsm.Processing))
}

func TestResolve(t *testing.T) {
	orders := []llm.OrderRecord{{OrderID: "10409", Status: llm.StatusRework}}
	tests := []struct {
		name     string
		setup    func(s *Store)
		to       fsm.State
		want     Resolution
		current  fsm.State
		previous fsm.State
		stored   bool
	}{
		{
			name:     "processing",
			setup:    func(s *Store) { s.SetState(1, fsm.Processing) },
			to:       fsm.Confirmation,
			want:     Resolved,
			current:  fsm.Confirmation,
			previous: fsm.Processing,
			stored:   true,
		},
		{
			name: "cancelled meanwhile",
			setup: func(s *Store) {
				s.SetState(1, fsm.Processing)
				s.SetState(1, fsm.Cancellation)
			},
			to:       fsm.Confirmation,
			want:     Deferred,
			current:  fsm.Cancellation,
			previous: fsm.Confirmation,
			stored:   true,
		},
		{
			name: "cancelled, nothing found",
			setup: func(s *Store) {
				s.SetState(1, fsm.Processing)
				s.SetState(1, fsm.Cancellation)
			},
			to:       fsm.Idle,
			want:     Deferred,
			current:  fsm.Cancellation,
			previous: fsm.Processing,
			stored:   true,
		},
		{
			name:     "not processing",
			setup:    func(s *Store) {},
			to:       fsm.Confirmation,
			want:     Dropped,
			current:  fsm.Idle,
			previous: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(time.Hour)
			id, _ := s.GetOrCreate(1)
			tc.setup(s)

			require.Equal(t, tc.want, s.Resolve(1, id, tc.to, orders, nil))
			sess, _ := s.Get(1)
			require.Equal(t, tc.current, sess.CurrentState)
			require.Equal(t, tc.previous, sess.PreviousState)
			if tc.stored {
				require.Equal(t, orders, sess.ExtractedOrders)
			} else {
				require.Nil(t, sess.ExtractedOrders)
			}
		})
	}

	t.Run("replaced session", func(t *testing.T) {
		s, _ := newTestStore(time.Hour)
		old, _ := s.GetOrCreate(1)
		s.Reset(1)
		s.SetState(1, fsm.Processing)
		require.Equal(t, Dropped, s.Resolve(1, old, fsm.Confirmation, orders, nil))
		require.Equal(t, fsm.Processing, s.State(1))
	})
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	s.GetOrCreate(1)
	comment := "царапина"
	s.AddMessage(1, "a")
	s.SetExtractedOrders(1, []llm.OrderRecord{{OrderID: "1", Comment: &comment}})
	s.SetPendingData(1, map[string]any{"question": "?"})

	snap, _ := s.Get(1)
	snap.Messages[0] = "changed"
	*snap.ExtractedOrders[0].Comment = "changed"
	snap.PendingData["question"] = "changed"
	comment = "changed too"

	again, _ := s.Get(1)
	require.Equal(t, []string{"a"}, again.Messages)
	require.Equal(t, "царапина", again.ExtractedOrders[0].CommentText())
	require.Equal(t, "?", again.PendingData["question"])
}

func TestSweepExpired(t *testing.T) {
	s, c := newTestStore(10 * time.Minute)
	s.GetOrCreate(1)
	s.GetOrCreate(2)
	s.GetOrCreate(3)
	c.Add(8 * time.Minute)
	s.AddMessage(3, "still here")
	c.Add(5 * time.Minute)

	require.True(t, s.Begin(2))
	require.Equal(t, 1, s.SweepExpired()) // 1 удалена, 2 в работе, 3 жива
	require.Equal(t, 2, s.Len())

	s.End(2)
	require.Equal(t, 1, s.SweepExpired())
	require.Equal(t, 1, s.Len())
}

func TestClearAndReset(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	id, _ := s.GetOrCreate(1)
	s.AddMessage(1, "x")
	s.SetState(1, fsm.Processing)

	id2 := s.Reset(1)
	require.NotEqual(t, id, id2)
	sess, _ := s.Get(1)
	require.Empty(t, sess.Messages)
	require.Equal(t, fsm.Idle, sess.CurrentState)

	s.Clear(1)
	_, ok := s.Get(1)
	require.False(t, ok)
}

func TestInflightGuard(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	require.True(t, s.Begin(5))
	require.True(t, s.Busy(5))
	require.False(t, s.Begin(5))
	require.True(t, s.Begin(6))
	s.End(5)
	require.False(t, s.Busy(5))
	require.True(t, s.Begin(5))
}

func TestInflightTTL(t *testing.T) {
	s := NewStore(time.Hour, nil, WithInflightTTL(20*time.Millisecond))
	require.True(t, s.Begin(1))
	require.Eventually(t, func() bool { return !s.Busy(1) }, time.Second, 5*time.Millisecond)
	require.True(t, s.Begin(1))
}

func TestConcurrentUsers(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	var wg sync.WaitGroup
	for u := int64(1); u <= 20; u++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			s.GetOrCreate(uid)
			for i := 0; i < 50; i++ {
				s.AddMessage(uid, "m")
			}
		}(u)
	}
	wg.Wait()
	require.Equal(t, 20, s.Len())
	for u := int64(1); u <= 20; u++ {
		sess, ok := s.Get(u)
		require.True(t, ok)
		require.Len(t, sess.Messages, 50)
	}
}
