// Package flap implements the decayed-exponential interface flap score:
// a per-(device, ifindex) value that rises sharply on rapid link
// transitions and decays slowly while the link is quiet, used to
// distinguish flapping from an isolated state change.
//
// The numeric law is expressed as pure functions over model.FlappingState
// values: no hidden state, fully table-testable.
package flap

import (
	"math"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
)

// Constants of the flap scoring law.
const (
	Threshold           = 35.0
	Ceiling             = 256.0
	Min                 = 1.5
	Multiplier          = 2.0
	InitVal             = 2.0
	Decrement           = 0.5
	DecrementIntervalSec = 300
)

// DecrementInterval is DecrementIntervalSec as a time.Duration.
const DecrementInterval = DecrementIntervalSec * time.Second

// Age applies exponential decay to s as of now and returns the updated
// value. Δ = (now - max(LastAge, LastFlap)) / DecrementIntervalSeconds;
// hist_val <- min(hist_val ^ (Decrement ^ Δ), Ceiling).
//
// Called before every Update and by the periodic decay job.
func Age(s model.FlappingState, now time.Time) model.FlappingState {
	if s.HistVal == 0 {
		s.LastAge = now
		return s
	}
	base := s.LastAge
	if s.LastFlap.After(base) {
		base = s.LastFlap
	}
	if base.IsZero() {
		s.LastAge = now
		return s
	}
	deltaSeconds := now.Sub(base).Seconds()
	if deltaSeconds <= 0 {
		s.LastAge = now
		return s
	}
	delta := deltaSeconds / DecrementIntervalSec
	exponent := math.Pow(Decrement, delta)
	s.HistVal = math.Min(math.Pow(s.HistVal, exponent), Ceiling)
	s.LastAge = now
	return s
}

// Update records a new flap transition at now: ages the score, doubles
// it (capped at Ceiling), and bumps the flap counter. The first-ever
// flap initializes HistVal = InitVal, Flaps = 1 instead of doubling zero.
func Update(s model.FlappingState, now time.Time) model.FlappingState {
	if s.Flaps == 0 && s.HistVal == 0 {
		s.HistVal = InitVal
		s.Flaps = 1
		s.FirstFlap = now
		s.LastFlap = now
		s.LastAge = now
		return s
	}
	s = Age(s, now)
	s.HistVal = math.Min(s.HistVal*Multiplier, Ceiling)
	s.Flaps++
	s.LastFlap = now
	return s
}

// IsFlapping ages s as of now and reports whether the resulting score
// indicates active flapping: HistVal > Threshold, or HistVal >= Min and
// the upper threshold was crossed at some point since the state began
// (FlappedAboveThreshold). Crossing the upper threshold here sets that
// flag for future calls.
func IsFlapping(s *model.FlappingState, now time.Time) bool {
	aged := Age(*s, now)
	*s = aged
	if s.HistVal > Threshold {
		s.FlappedAboveThreshold = true
		return true
	}
	return s.HistVal >= Min && s.FlappedAboveThreshold
}
