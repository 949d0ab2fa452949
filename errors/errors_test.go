package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRPCErrorRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		ErrIllegalPath,
		ErrFileNotFound,
		ErrParentPathNotFound,
		ErrNotADirectory,
		ErrFileAlreadyExist,
		ErrIOError,
		ErrFileNotInSameServer,
	} {
		wire := ToRPCError(sentinel)
		require.Error(t, wire)
		require.Equal(t, sentinel, FromRPCError(wire))
	}
}

func TestUnknownErrorsFlattened(t *testing.T) {
	wire := ToRPCError(errors.New("rocksdb: io stall"))
	s, ok := status.FromError(wire)
	require.True(t, ok)
	require.Equal(t, codes.Internal, s.Code())
	require.Equal(t, ErrIOError, FromRPCError(wire))

	require.Equal(t, ErrIOError, FromRPCError(errors.New("connection refused")))
	require.NoError(t, FromRPCError(nil))
	require.NoError(t, ToRPCError(nil))
}

func TestLocalSentinelsStayLocal(t *testing.T) {
	// the redirect cap marker must not map onto a wire variant of its own
	require.Equal(t, ErrIOError, FromRPCError(ToRPCError(ErrTooManyRedirections)))
}
