package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrBadCursor marks an opaque cursor the server did not mint.
var ErrBadCursor = errors.New("malformed pagination cursor")

// Cursor marks a position in the (created_at DESC, id DESC) total order.
// The id component breaks timestamp ties deterministically, so pages over
// append-only data are gap- and duplicate-free. Rows inserted later with an
// earlier timestamp may be missed; acceptable for feeds and history.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a client-supplied token. An empty token means the
// first page and returns a zero cursor with ok=false.
func DecodeCursor(token string) (Cursor, bool, error) {
	if token == "" {
		return Cursor{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false, ErrBadCursor
	}
	var micros, id int64
	if _, err := fmt.Sscanf(string(raw), "%d:%d", &micros, &id); err != nil {
		return Cursor{}, false, ErrBadCursor
	}
	return Cursor{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, true, nil
}
