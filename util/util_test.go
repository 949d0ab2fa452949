package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringBytesConversion(t *testing.T) {
	s := "hello"
	b := StringsToBytes(s)
	require.Equal(t, []byte("hello"), b)
	require.Equal(t, s, BytesToString(b))

	require.Empty(t, StringsToBytes(""))
	require.Equal(t, "", BytesToString(nil))
}
