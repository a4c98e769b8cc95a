package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermanent(t *testing.T) {
	require.Nil(t, Permanent(nil))

	err := Permanent(fmt.Errorf("fetch task 7: %w", ErrEntityNotFound))
	require.True(t, IsPermanent(err))
	require.True(t, errors.Is(err, ErrEntityNotFound))

	wrapped := fmt.Errorf("pipeline: %w", err)
	require.True(t, IsPermanent(wrapped))

	require.False(t, IsPermanent(errors.New("redis down")))
}
