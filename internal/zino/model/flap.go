package model

import "time"

// FlappingState is the per-(device, ifindex) decayed-exponential flap
// score. The numeric law governing its fields lives in
// internal/zino/flap; this type is the pure value the tracker stores and
// the store/tasks read.
type FlappingState struct {
	HistVal               float64
	Flaps                 int
	FirstFlap             time.Time
	LastFlap              time.Time
	LastAge               time.Time
	FlappedAboveThreshold bool
	InActiveFlapState     bool
}
