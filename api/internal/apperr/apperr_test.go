package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	base := Persistence("save inspections", errors.New("disk full"))
	wrapped := fmt.Errorf("confirm: %w", base)

	require.Equal(t, KindPersistence, KindOf(wrapped))
	require.True(t, Is(wrapped, KindPersistence))
	require.False(t, Is(wrapped, KindValidation))
	require.Contains(t, wrapped.Error(), "disk full")
}

func TestKindOfForeignError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
	require.False(t, Is(nil, KindInternal))
}

func TestUserMessage(t *testing.T) {
	err := fmt.Errorf("photo: %w", Validation("Размер файла %.1fMB превышает лимит %dMB", 21.5, 20))
	require.Equal(t, "Размер файла 21.5MB превышает лимит 20MB", UserMessage(err))
	require.Empty(t, UserMessage(errors.New("raw")))
}
