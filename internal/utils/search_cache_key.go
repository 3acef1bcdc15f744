package utils

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

func BuildTrajetSearchCacheKey(from, to, mode string, date time.Time, rangeDays int) string {
	return "trajets:search:v1:from=" + normalizeKeyPart(from) +
		":to=" + normalizeKeyPart(to) +
		":type=" + normalizeKeyPart(mode) +
		":date=" + date.UTC().Format(time.RFC3339Nano) +
		":range=" + strconv.Itoa(rangeDays)
}

// Matching is exact, so only surrounding whitespace is dropped. Case is kept.
// Query escaping is injective and removes the ':' separator from values.
func normalizeKeyPart(s string) string {
	return url.QueryEscape(strings.TrimSpace(s))
}
