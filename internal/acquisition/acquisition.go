package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/handiism/patch-downloader/internal/model"
)

// Kind identifies the transport behind a Strategy. It is reported to
// observers only and never changes how a patch is scheduled.
type Kind int

const (
	KindHTTP Kind = iota
	KindTorrent
)

func (k Kind) String() string {
	if k == KindTorrent {
		return "torrent"
	}
	return "http"
}

// ProgressFunc receives the cumulative number of bytes written for the
// current attempt and the smoothed transfer rate in bytes per second.
//
// The first call marks the end of the checking phase. Calls may come from any
// goroutine but never concurrently for the same Handle.
type ProgressFunc func(bytesDone int64, rate float64)

// Strategy starts acquisitions of patches over one transport.
type Strategy interface {
	Kind() Kind

	// Start begins fetching p into dest and returns immediately; slow
	// setup such as loading a descriptor belongs on the transfer goroutine
	// and is reported through the Handle.
	// The returned Handle finishes when the transfer succeeds, fails or
	// is cancelled.
	Start(ctx context.Context, p model.Patch, dest string, onProgress ProgressFunc) (Handle, error)
}

// Handle controls one running acquisition.
type Handle interface {
	// Cancel asks the acquisition to stop. It returns without waiting;
	// Done is closed once the strategy has stopped.
	Cancel()

	// Done is closed when the acquisition has finished.
	Done() <-chan struct{}

	// IsComplete reports whether the acquisition has finished.
	IsComplete() bool

	// Result is nil on success and a *Failure otherwise.
	// It is only meaningful once Done is closed.
	Result() error
}

// Reason classifies a failed acquisition.
type Reason int

const (
	ReasonNetwork Reason = iota
	ReasonDisk
	ReasonIntegrity
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonDisk:
		return "disk"
	case ReasonIntegrity:
		return "integrity"
	case ReasonAborted:
		return "aborted"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Failure is the error returned by Handle.Result for unsuccessful acquisitions.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason.String() + " failure"
	}
	return fmt.Sprintf("%s failure: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Common errors wrapped by Failure.
var (
	ErrSizeMismatch     = errors.New("downloaded size does not match expected length")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// IsAborted reports whether err is a Failure caused by cancellation.
func IsAborted(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Reason == ReasonAborted
}

// ReasonOf returns the failure reason of err, defaulting to ReasonNetwork for
// errors that are not a *Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonNetwork
}

func fail(reason Reason, err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Reason: reason, Err: err}
}

// task is the Handle implementation shared by the strategies.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// startTask runs fn on its own goroutine. Errors returned after the context
// was cancelled are reported as ReasonAborted.
func startTask(ctx context.Context, fn func(ctx context.Context) error) *task {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer cancel()
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			err = &Failure{Reason: ReasonAborted, Err: ctx.Err()}
		} else if err != nil {
			err = fail(ReasonNetwork, err)
		}
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return t
}

func (t *task) Cancel() { t.cancel() }

func (t *task) Done() <-chan struct{} { return t.done }

func (t *task) IsComplete() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) Result() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
