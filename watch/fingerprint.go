package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint identifies "the same encounter" across overlapping runs: the
// pair key plus the session start floored to bucket.
func Fingerprint(key PairKey, start time.Time, bucket time.Duration, hexLen int) string {
	at := start.UTC()
	if bucket > 0 {
		at = at.Truncate(bucket)
	}
	return HashKey(fmt.Sprintf("%s|%s", key, at.Format(time.RFC3339)), hexLen)
}

// HashKey returns the sha256 hex digest of s, truncated to hexLen when
// 0 < hexLen < 64.
func HashKey(s string, hexLen int) string {
	sum := sha256.Sum256([]byte(s))
	full := hex.EncodeToString(sum[:])
	if hexLen <= 0 || hexLen >= len(full) {
		return full
	}
	return full[:hexLen]
}
