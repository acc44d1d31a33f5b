package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	orig := Cursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		ID:        4211,
	}

	decoded, ok, err := DecodeCursor(orig.Encode())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, orig.ID, decoded.ID)
	assert.True(t, orig.CreatedAt.Equal(decoded.CreatedAt))
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, ok, err := DecodeCursor("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.ID)
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, token := range []string{
		"not base64!!",
		"aGVsbG8",        // decodes, but no int:int shape
		"////",           // invalid URL-safe alphabet
		"MTIzNDU2Nzg5MA", // single number, missing id component
	} {
		_, _, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrBadCursor, "token %q", token)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, DefaultPageSize, ClampLimit(-5))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxPageSize, ClampLimit(10_000))
}
