package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ppiankov/driftwatch/internal/model"
)

// Fingerprint derives the deterministic recurrence key for a signal:
// hash(drift_type | decision_type | discriminating dimension). Two signals
// with the same fingerprint are the same shape of drift recurring.
func Fingerprint(driftType model.DriftType, decisionType, dimension string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", driftType, decisionType, dimension)))
	return hex.EncodeToString(h[:])[:16]
}
