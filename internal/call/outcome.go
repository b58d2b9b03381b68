// Package call reconciles telephony lifecycle events with durable call
// records: terminal status writes, the append-only audit trail, and the
// derived fields (outcome, cost, transcript) computed at finalize time.
package call

import (
	"math"
	"strings"
	"time"

	"github.com/dialhub/dialhub/internal/database/models"
)

// costPrecision is the number of decimal places kept on computed cost.
const costPrecision = 4

// OutcomeForCause maps a hangup cause string onto the automated outcome
// vocabulary. Matching is by substring on the upper-cased cause text:
// no-answer and busy keywords are checked first, everything else —
// including causes this subsystem has never seen — resolves to
// completed rather than failing the teardown.
func OutcomeForCause(causeText string) models.Outcome {
	cause := strings.ToUpper(causeText)
	switch {
	case strings.Contains(cause, "NO_ANSWER"),
		strings.Contains(cause, "NO ANSWER"),
		strings.Contains(cause, "NOANSWER"):
		return models.OutcomeNoAnswer
	case strings.Contains(cause, "BUSY"):
		return models.OutcomeBusy
	default:
		return models.OutcomeCompleted
	}
}

// Cost computes the call cost for a duration at a per-minute rate,
// rounded to four decimal places. Sub-minute calls are billed
// pro-rata; a zero duration costs zero.
func Cost(duration time.Duration, ratePerMinute float64) float64 {
	raw := duration.Seconds() / 60 * ratePerMinute
	shift := math.Pow10(costPrecision)
	return math.Round(raw*shift) / shift
}
