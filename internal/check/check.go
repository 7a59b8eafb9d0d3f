// Package check holds the wire types exchanged with the scoring service
// and the read-side contract the operator dashboard consumes.
package check

import (
	"encoding/json"
	"time"
)

// Request is the fraud-check body POSTed on form submit. Every field is
// always present; nullable ones are pointers.
type Request struct {
	Email string  `json:"email"`
	BIN   *string `json:"bin"`

	UserAgent string  `json:"user_agent"`
	IP        *string `json:"ip"`
	Timezone  *string `json:"timezone"`
	Language  string  `json:"language"`

	// Behavioral metrics, all in milliseconds except the move count.
	SessionDurationMs int64  `json:"session_duration_ms"`
	TypingSpeedMsAvg  *int64 `json:"typing_speed_ms_avg"`
	MouseMovesCount   int64  `json:"mouse_moves_count"`
	FirstClickDelayMs *int64 `json:"first_click_delay_ms"`

	DeviceInfo DeviceInfo `json:"device_info"`
}

// DeviceInfo is the device fingerprint sub-object.
type DeviceInfo struct {
	UserAgent string  `json:"userAgent"`
	Platform  string  `json:"platform"`
	Language  string  `json:"language"`
	Screen    *Screen `json:"screen"`
}

// Screen is present only when the page has a display surface.
type Screen struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixelRatio"`
}

// Verdict is the scoring service's usual answer. The collector forwards
// response bodies verbatim, so this type is only a convenience decoder.
type Verdict struct {
	RiskScore      int      `json:"risk_score"`
	FraudFlags     []string `json:"fraud_flags"`
	Recommendation string   `json:"recommendation,omitempty"`
	CheckID        *int64   `json:"check_id,omitempty"`
}

// DecodeVerdict parses a raw verdict body.
func DecodeVerdict(raw json.RawMessage) (Verdict, error) {
	var v Verdict
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Outcome is one dispatched check together with what came back. Sinks
// persist outcomes keyed by CheckID.
type Outcome struct {
	CheckID      string          `json:"check_id"`
	Source       string          `json:"source"` // "collector" or "stub"
	Endpoint     string          `json:"endpoint,omitempty"`
	Request      Request         `json:"request"`
	Verdict      json.RawMessage `json:"verdict,omitempty"`
	StatusCode   int             `json:"status_code,omitempty"`
	Error        string          `json:"error,omitempty"` // "bad_json" | "request_failed"
	DispatchedAt time.Time       `json:"dispatched_at"`
	DurationMs   int64           `json:"duration_ms"`
}

// Recommendation thresholds of the scoring service.
const (
	ThresholdReview = 50
	ThresholdBlock  = 80
)

// Recommendation maps a risk score to allow, review or block.
func Recommendation(score int) string {
	switch {
	case score >= ThresholdBlock:
		return "block"
	case score >= ThresholdReview:
		return "review"
	default:
		return "allow"
	}
}
