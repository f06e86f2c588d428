package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewEpisodeID generates an episode ID ("ep-" + 12 hex chars).
func NewEpisodeID() string {
	return prefixedID("ep", 12)
}

// NewDriftID generates a drift signal ID.
func NewDriftID() string {
	return prefixedID("drift", 12)
}

// NewPatchID generates a patch ID.
func NewPatchID() string {
	return prefixedID("patch", 12)
}

// UTCNowISO returns the current UTC time in the record timestamp format.
func UTCNowISO() string {
	return time.Now().UTC().Format(TimestampFormat)
}

func prefixedID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)[:hexLen])
}
