package download

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// SessionState is the lifecycle state of a download session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionRunning    SessionState = "running"
	SessionCancelling SessionState = "cancelling"
	SessionCancelled  SessionState = "cancelled"
	SessionCompleted  SessionState = "completed"
	SessionFailed     SessionState = "failed"
)

// PatchOutcome tracks a single patch through the session. Every patch ends
// in Installed, Failed or Cancelled.
type PatchOutcome string

const (
	PatchQueued     PatchOutcome = "queued"
	PatchActive     PatchOutcome = "active"
	PatchDownloaded PatchOutcome = "downloaded"
	PatchInstalling PatchOutcome = "installing"
	PatchInstalled  PatchOutcome = "installed"
	PatchFailed     PatchOutcome = "failed"
	PatchCancelled  PatchOutcome = "cancelled"
)

// PatchStatus is the outcome of one patch in the snapshot.
type PatchStatus struct {
	Name    string
	Outcome PatchOutcome
}

// SlotSnapshot is a copy of one slot's state.
type SlotSnapshot struct {
	Index   int
	State   SlotState
	Patch   string
	Length  int64
	Bytes   int64
	Rate    float64
	Percent float64
	Torrent bool
	Attempt int

	// Err is the last acquisition error of a slot waiting for a retry.
	Err error

	// Visible is false for idle slots and once the session is over.
	Visible bool
}

// Label returns the text shown next to the slot's progress bar.
func (s SlotSnapshot) Label() string {
	switch s.State {
	case SlotIdle, SlotDone:
		return "done"
	case SlotChecking:
		return fmt.Sprintf("%s (checking)", s.Patch)
	case SlotFailed:
		return fmt.Sprintf("%s (retrying, attempt %d)", s.Patch, s.Attempt+1)
	default:
		return fmt.Sprintf("%s (%.1f%%, %s/s)", s.Patch, s.Percent, humanize.IBytes(uint64(s.Rate)))
	}
}

// Snapshot is an immutable view of a session returned by Manager.Poll.
type Snapshot struct {
	SessionID string
	State     SessionState
	Slots     []SlotSnapshot

	// BytesRemaining counts the bytes left in active slots plus the full
	// length of patches not started yet.
	BytesRemaining int64

	// Rate is the sum of the slot rates in bytes per second.
	Rate float64

	// Installed is the install cursor: the number of patches installed so far.
	Installed int
	Total     int

	// Done is set once every patch is installed, Cancelled once CancelAll
	// was called. Finished is set when the session has stopped all work,
	// whatever the outcome.
	Done      bool
	Cancelled bool
	Finished  bool

	// Err is the fatal error of a failed session, FailedPatch its patch name.
	Err         error
	FailedPatch string

	Patches []PatchStatus
}

// Status returns the "N/M" install progress text.
func (s Snapshot) Status() string {
	return fmt.Sprintf("%d/%d", s.Installed, s.Total)
}

// Remaining returns the "<bytes> left at <rate>/s" text.
func (s Snapshot) Remaining() string {
	return fmt.Sprintf("%s left at %s/s", humanize.IBytes(uint64(s.BytesRemaining)), humanize.IBytes(uint64(s.Rate)))
}

// Percent returns 100*done/length rounded to two decimal places, or 0 when
// the length is unknown.
func Percent(done, length int64) float64 {
	if length <= 0 {
		return 0
	}
	return math.Round(100*float64(done)/float64(length)*100) / 100
}
