package download

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/handiism/patch-downloader/internal/acquisition"
)

// SlotState is the lifecycle state of a download slot.
type SlotState string

const (
	SlotIdle        SlotState = "idle"        // No patch assigned.
	SlotChecking    SlotState = "checking"    // Strategy started, no bytes reported yet.
	SlotDownloading SlotState = "downloading" // Strategy is transferring.
	SlotDone        SlotState = "done"        // Patch fully on disk, awaiting install.
	SlotFailed      SlotState = "failed"      // Attempt failed, awaiting retry or teardown.
)

var ErrInvalidTransition = errors.New("invalid slot state transition")

// validTransitions defines the adjacency list of allowed slot transitions.
var validTransitions = map[SlotState][]SlotState{
	SlotIdle:        {SlotChecking},
	SlotChecking:    {SlotDownloading, SlotDone, SlotFailed, SlotIdle},
	SlotDownloading: {SlotDone, SlotFailed, SlotIdle},
	SlotDone:        {SlotIdle},
	SlotFailed:      {SlotChecking, SlotIdle},
}

// CanTransition reports whether a slot may move from one state to another.
func CanTransition(from, to SlotState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Active reports whether a strategy may still be running in this state.
func (s SlotState) Active() bool {
	return s == SlotChecking || s == SlotDownloading
}

// slot is one concurrent download lane. All fields are guarded by the
// manager's mutex.
type slot struct {
	index int
	state SlotState

	// patch indexes Manager.patches, -1 when idle.
	patch   int
	bytes   int64
	rate    float64
	kind    acquisition.Kind
	attempt int
	lastErr error

	// gen is bumped for every new attempt and on release. Callbacks carry the
	// generation they were created for and are ignored once it is stale.
	gen     uint64
	handle  acquisition.Handle
	backoff *backoff.ExponentialBackOff
	retry   *time.Timer
}

func newSlot(index int, opts Options) *slot {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialRetryInterval
	b.MaxInterval = opts.MaxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return &slot{
		index:   index,
		state:   SlotIdle,
		patch:   -1,
		backoff: b,
	}
}

func (s *slot) transition(to SlotState) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrInvalidTransition, s.index, s.state, to)
	}
	s.state = to
	return nil
}

// stopRetry cancels a pending retry timer.
func (s *slot) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// release returns the slot to Idle and invalidates outstanding callbacks.
func (s *slot) release() error {
	if s.state == SlotIdle {
		return nil
	}
	if err := s.transition(SlotIdle); err != nil {
		return err
	}
	s.stopRetry()
	s.gen++
	s.patch = -1
	s.bytes = 0
	s.rate = 0
	s.attempt = 0
	s.lastErr = nil
	s.handle = nil
	return nil
}
