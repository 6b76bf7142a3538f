package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"otk-bot/api/internal/apperr"
)

type countingActions struct {
	persist, discard int
	persistErr       error
}

func (a *countingActions) Persist(context.Context, int64) (int, error) {
	a.persist++
	if a.persistErr != nil {
		return 0, a.persistErr
	}
	return 3, nil
}

func (a *countingActions) Discard(context.Context, int64) error {
	a.discard++
	return nil
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to State
		ctx      Context
		want     bool
	}{
		{"no direct edge", Idle, Confirmation, Context{}, false},
		{"no direct edge even with guards", Idle, Confirmation, With(DataExtracted, UserConfirmed), false},
		{"guard false", Idle, Processing, Context{}, false},
		{"input present", Idle, Processing, With(HasInputData), true},
		{"confirmed", Confirmation, Idle, With(UserConfirmed), true},
		{"rejected uses second edge", Confirmation, Idle, With(UserRejected), true},
		{"wrong guard", Confirmation, Idle, With(DataExtracted), false},
		{"back to previous", Cancellation, Processing, With(ReturnToPrevious).WithPrevious(Processing), true},
		{"back to other state", Cancellation, Confirmation, With(ReturnToPrevious).WithPrevious(Processing), false},
		{"report exit", ReportProcessing, Idle, With(ExitReports), true},
		{"no confirmation to processing", Confirmation, Processing, With(HasInputData, ClarificationProvided), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanTransition(tc.from, tc.to, tc.ctx))
		})
	}
}

func TestExecutePersistOnce(t *testing.T) {
	acts := &countingActions{}
	m := New(acts, nil)

	res, err := m.Execute(context.Background(), 1, Confirmation, Idle, With(UserConfirmed))
	require.NoError(t, err)
	require.Equal(t, Persist, res.Action)
	require.Equal(t, 3, res.Saved)
	require.Equal(t, 1, acts.persist)
	require.Equal(t, 0, acts.discard)

	res, err = m.Execute(context.Background(), 1, Confirmation, Idle, With(UserRejected))
	require.NoError(t, err)
	require.Equal(t, Discard, res.Action)
	require.Zero(t, res.Saved)
	require.Equal(t, 1, acts.persist)
	require.Equal(t, 1, acts.discard)
}

func TestExecuteIllegal(t *testing.T) {
	acts := &countingActions{}
	_, err := New(acts, nil).Execute(context.Background(), 1, Idle, Confirmation, With(UserConfirmed))
	require.True(t, apperr.Is(err, apperr.KindIllegalTransition))
	require.Zero(t, acts.persist)
}

func TestExecuteActionFailure(t *testing.T) {
	acts := &countingActions{persistErr: apperr.Persistence("save", errors.New("db down"))}
	_, err := New(acts, nil).Execute(context.Background(), 1, Confirmation, Idle, With(UserConfirmed))
	require.True(t, apperr.Is(err, apperr.KindPersistence))
	require.Equal(t, 1, acts.persist)
}

func TestAvailable(t *testing.T) {
	require.ElementsMatch(t, []State{Processing, ReportsMenu}, Targets(Idle))
	require.Equal(t, []State{Idle}, Available(Confirmation, With(UserRejected)))
	require.ElementsMatch(t, []State{Idle, Cancellation}, Available(Confirmation, With(UserConfirmed, UserCancelled)))
	require.Empty(t, Available(Cancellation, With(ReturnToPrevious)))
}
