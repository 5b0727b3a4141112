package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidation_WrapsSentinel(t *testing.T) {
	err := Validation("rating %d out of range", 9)
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "rating 9 out of range")
}

func TestTransient(t *testing.T) {
	require.NoError(t, Transient(nil))

	cause := errors.New("conn reset")
	err := fmt.Errorf("get deck: %w", Transient(cause))
	require.True(t, IsTransient(err))
	require.ErrorIs(t, err, cause)
	require.False(t, IsTransient(cause))
}

func TestIntegrityError(t *testing.T) {
	var err error = &IntegrityError{Violations: []string{"a", "b"}}
	require.ErrorIs(t, err, ErrDataIntegrity)
	require.Equal(t, "data integrity: a; b", err.Error())

	var ie *IntegrityError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &ie)
	require.Len(t, ie.Violations, 2)
}
