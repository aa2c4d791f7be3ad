package vfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in   string
		want Flag
	}{
		{"r", Flag{Readable: true}},
		{"rs", Flag{Readable: true}},
		{"r+", Flag{Readable: true, Writable: true}},
		{"w", Flag{Writable: true, Truncate: true, CreateIfMissing: true}},
		{"wx", Flag{Writable: true, Truncate: true, CreateIfMissing: true, Exclusive: true}},
		{"w+", Flag{Readable: true, Writable: true, Truncate: true, CreateIfMissing: true}},
		{"wx+", Flag{Readable: true, Writable: true, Truncate: true, CreateIfMissing: true, Exclusive: true}},
		{"a", Flag{Writable: true, Appendable: true, CreateIfMissing: true}},
		{"ax", Flag{Writable: true, Appendable: true, CreateIfMissing: true, Exclusive: true}},
		{"a+", Flag{Readable: true, Writable: true, Appendable: true, CreateIfMissing: true}},
		{"ax+", Flag{Readable: true, Writable: true, Appendable: true, CreateIfMissing: true, Exclusive: true}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFlag(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseFlagInvalid(t *testing.T) {
	_, err := ParseFlag("bogus")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestFlagOpenModeRoundTrip(t *testing.T) {
	for _, s := range []string{"r", "r+", "w", "wx", "w+", "wx+", "a", "ax", "a+", "ax+"} {
		f, err := ParseFlag(s)
		require.NoError(t, err)
		require.Equal(t, s, f.OpenMode())
	}
}

func TestFlagOpenModeRS(t *testing.T) {
	// "rs" has no distinct mode flag of its own; it renders back as "r".
	f, err := ParseFlag("rs")
	require.NoError(t, err)
	require.Equal(t, "r", f.OpenMode())
}
