package collector

import (
	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/dom"
	"github.com/shortontech/fraudsignal/internal/enrich"
)

// binLength is how many leading digits make up a BIN.
const binLength = 6

// NormalizeBIN strips every non-digit from value and returns the first six
// digits, or nil if fewer than six remain.
func NormalizeBIN(value string) *string {
	digits := make([]byte, 0, binLength)
	for i := 0; i < len(value) && len(digits) < binLength; i++ {
		if c := value[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) < binLength {
		return nil
	}
	bin := string(digits)
	return &bin
}

func fieldValue(el *dom.Element) string {
	if el == nil {
		return ""
	}
	return el.Value()
}

// buildRequest assembles everything but the IP, which the dispatcher
// resolves asynchronously.
func buildRequest(w *dom.Window, email, card *dom.Element, snap Snapshot) check.Request {
	req := check.Request{
		Email:             fieldValue(email),
		BIN:               NormalizeBIN(fieldValue(card)),
		UserAgent:         enrich.UserAgent(w),
		Timezone:          enrich.TimeZone(w),
		Language:          enrich.Language(w),
		SessionDurationMs: snap.SessionDuration.Milliseconds(),
		TypingSpeedMsAvg:  snap.AverageTypingMs,
		MouseMovesCount:   snap.PointerMoves,
		DeviceInfo:        enrich.Device(w),
	}
	if snap.FirstInteractionDelay != nil {
		ms := snap.FirstInteractionDelay.Milliseconds()
		req.FirstClickDelayMs = &ms
	}
	return req
}
