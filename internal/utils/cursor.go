package utils

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const cursorVersion = "t1"

// TrajetCursor marks the last row of a page ordered by (dateTraject, id).
type TrajetCursor struct {
	DateTraject time.Time
	ID          string
}

// EncodeTrajetCursor packs the keyset position as
// base64url("t1|<unix nanos base36>|<id>").
func EncodeTrajetCursor(dateTraject time.Time, id string) string {
	payload := cursorVersion + "|" + strconv.FormatInt(dateTraject.UTC().UnixNano(), 36) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func DecodeTrajetCursor(cursor string) (TrajetCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) == 0 {
		return TrajetCursor{}, ErrInvalidCursor
	}

	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 || parts[0] != cursorVersion || parts[2] == "" {
		return TrajetCursor{}, ErrInvalidCursor
	}

	nanos, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil || nanos <= 0 {
		return TrajetCursor{}, ErrInvalidCursor
	}

	return TrajetCursor{DateTraject: time.Unix(0, nanos).UTC(), ID: parts[2]}, nil
}
