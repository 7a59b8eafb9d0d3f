package collector

import (
	"math"
	"sync"
	"time"
)

// maxKeyGap is the sanity ceiling for inter-keystroke gaps. Longer pauses
// (tab switches, idling) are not typing cadence.
const maxKeyGap = 5000 * time.Millisecond

// session is the per-attach interaction state. Every mutation happens in a
// single locked read-then-write so handlers observe events in delivery
// order even when the page dispatches from several goroutines.
type session struct {
	mu sync.Mutex

	startedAt        time.Time
	firstInteraction *time.Duration
	pointerMoves     int64
	keyGaps          []int64
	lastKey          time.Time
	hasLastKey       bool
}

func newSession(startedAt time.Time) *session {
	return &session{startedAt: startedAt}
}

func (s *session) pointerMove() {
	s.mu.Lock()
	s.pointerMoves++
	s.mu.Unlock()
}

// press latches the first-interaction delay; later presses are ignored.
func (s *session) press(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstInteraction != nil {
		return
	}
	d := at.Sub(s.startedAt)
	s.firstInteraction = &d
}

func (s *session) keyDown(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLastKey {
		gap := at.Sub(s.lastKey)
		if gap >= 0 && gap < maxKeyGap {
			s.keyGaps = append(s.keyGaps, gap.Milliseconds())
		}
	}
	s.lastKey = at
	s.hasLastKey = true
}

// Snapshot is a point-in-time copy of a collector's behavioral metrics.
type Snapshot struct {
	StartedAt             time.Time
	SessionDuration       time.Duration
	FirstInteractionDelay *time.Duration
	PointerMoves          int64
	KeyIntervals          []int64
	AverageTypingMs       *int64
}

func (s *session) snapshot(at time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		StartedAt:       s.startedAt,
		SessionDuration: at.Sub(s.startedAt),
		PointerMoves:    s.pointerMoves,
		KeyIntervals:    append([]int64(nil), s.keyGaps...),
	}
	if s.firstInteraction != nil {
		d := *s.firstInteraction
		snap.FirstInteractionDelay = &d
	}
	snap.AverageTypingMs = AverageInterval(snap.KeyIntervals)
	return snap
}

// AverageInterval returns the mean of samples rounded to the nearest
// millisecond, or nil when there are none. Zero would read as very fast
// typing, so absence is reported as nil.
func AverageInterval(samples []int64) *int64 {
	if len(samples) == 0 {
		return nil
	}
	var sum int64
	for _, v := range samples {
		sum += v
	}
	avg := int64(math.Round(float64(sum) / float64(len(samples))))
	return &avg
}
