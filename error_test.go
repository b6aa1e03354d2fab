package ocs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var errExample = xerrors.New("example")

func makeError() error {
	return xerrors.Errorf("oops: %w", errExample)
}

// Test that Wrap creates an error when the parameter is not nil, and returns
// nil otherwise.
func TestError_Wrap(t *testing.T) {
	err := Wrap(ErrCommunication, makeError(), "test")

	require.Equal(t, "test: oops: example", err.Error())
	require.Nil(t, Wrap(ErrCommunication, nil, ""))
}

// Test that the kind and the cause can both be matched.
func TestError_Is(t *testing.T) {
	err := Wrap(ErrAuthorization, makeError(), "")

	require.Equal(t, "oops: example", err.Error())
	require.True(t, xerrors.Is(err, ErrAuthorization))
	require.True(t, xerrors.Is(err, errExample))
	require.False(t, xerrors.Is(err, ErrCommunication))
	require.False(t, xerrors.Is(err, ErrCryptoStructure))

	outer := xerrors.Errorf("calling: %w", err)
	require.True(t, xerrors.Is(outer, ErrAuthorization))
}

// Test that an error of another kind is not kept in the chain.
func TestError_WrapOtherKind(t *testing.T) {
	inner := Errorf(ErrCryptoStructure, "incorrect version")
	err := Wrap(ErrAuthorization, inner, "evolution")

	require.Equal(t, "evolution: incorrect version", err.Error())
	require.True(t, xerrors.Is(err, ErrAuthorization))
	require.False(t, xerrors.Is(err, ErrCryptoStructure))
	require.Nil(t, xerrors.Unwrap(err))

	err = Wrap(ErrCommunication, xerrors.Errorf("sending: %w", inner), "")
	require.Equal(t, "sending: incorrect version", err.Error())
	require.False(t, xerrors.Is(err, ErrCryptoStructure))

	// The same kind is kept as cause.
	err = Wrap(ErrCryptoStructure, inner, "darc")
	require.True(t, xerrors.Is(err, ErrCryptoStructure))
	require.Equal(t, inner, xerrors.Unwrap(err))
}

func TestError_Errorf(t *testing.T) {
	err := Errorf(ErrCryptoStructure, "wrong length %d", 3)

	require.Equal(t, "wrong length 3", err.Error())
	require.True(t, xerrors.Is(err, ErrCryptoStructure))
	require.Nil(t, xerrors.Unwrap(err))
	require.Equal(t, ErrCryptoStructure, err.(*Error).Kind())
}

// Test that the skip option is correctly used to prevent a call
// to be included in the stack trace.
func TestError_WrapSkip(t *testing.T) {
	err := WrapSkip(ErrCommunication, makeError(), "test", 1)

	require.NotContains(t, fmt.Sprintf("%+v", err), t.Name())
	require.Contains(t, fmt.Sprintf("%+v", err), ".makeError")

	err = Wrap(ErrCommunication, makeError(), "test")
	require.Contains(t, fmt.Sprintf("%+v", err), t.Name())
}
