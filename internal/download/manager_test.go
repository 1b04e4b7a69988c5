package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/patch-downloader/internal/acquisition"
	"github.com/handiism/patch-downloader/internal/model"
)

const waitTimeout = 5 * time.Second

type fakeHandle struct {
	patch        model.Patch
	progress     acquisition.ProgressFunc
	ignoreCancel bool

	once sync.Once
	done chan struct{}
	err  error
}

func (h *fakeHandle) Cancel() {
	if !h.ignoreCancel {
		h.finish(&acquisition.Failure{Reason: acquisition.ReasonAborted, Err: context.Canceled})
	}
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) IsComplete() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Result() error {
	<-h.done
	return h.err
}

func (h *fakeHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *fakeHandle) report(n int64, rate float64) {
	h.progress(n, rate)
}

func (h *fakeHandle) complete() {
	h.progress(h.patch.Length, 0)
	h.finish(nil)
}

func (h *fakeHandle) fail() {
	h.finish(&acquisition.Failure{Reason: acquisition.ReasonNetwork, Err: errors.New("connection reset")})
}

// fakeStrategy records every started attempt so tests can drive them.
type fakeStrategy struct {
	kind         acquisition.Kind
	ignoreCancel bool
	startErr     map[string]error

	mu      sync.Mutex
	handles map[string][]*fakeHandle
}

func newFakeStrategy() *fakeStrategy {
	return &fakeStrategy{
		startErr: make(map[string]error),
		handles:  make(map[string][]*fakeHandle),
	}
}

func (f *fakeStrategy) Kind() acquisition.Kind { return f.kind }

func (f *fakeStrategy) Start(ctx context.Context, p model.Patch, dest string, fn acquisition.ProgressFunc) (acquisition.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[p.Name]; err != nil {
		return nil, err
	}
	h := &fakeHandle{patch: p, progress: fn, ignoreCancel: f.ignoreCancel, done: make(chan struct{})}
	f.handles[p.Name] = append(f.handles[p.Name], h)
	return h, nil
}

// handle waits for the given attempt (1-based) of patch name to start.
func (f *fakeStrategy) handle(t *testing.T, name string, attempt int) *fakeHandle {
	t.Helper()
	var h *fakeHandle
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.handles[name]) >= attempt {
			h = f.handles[name][attempt-1]
			return true
		}
		return false
	}, waitTimeout, time.Millisecond, "attempt %d of %s did not start", attempt, name)
	return h
}

func (f *fakeStrategy) attempts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles[name])
}

type recordingInstaller struct {
	mu        sync.Mutex
	installed []string
	fail      map[string]error
	block     chan struct{}
}

func (r *recordingInstaller) Install(ctx context.Context, p model.Patch, localPath string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[p.Name]; err != nil {
		return err
	}
	r.installed = append(r.installed, p.Name)
	return nil
}

func (r *recordingInstaller) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.installed...)
}

func testPatches(lengths ...int64) []model.Patch {
	patches := make([]model.Patch, len(lengths))
	for i, l := range lengths {
		name := fmt.Sprintf("p%d", i)
		patches[i] = model.Patch{
			Name:        name,
			Length:      l,
			URL:         "http://example.com/" + name,
			Destination: "/patches/" + name + ".patch",
		}
	}
	return patches
}

func testOptions() Options {
	return Options{
		MaxRetries:           3,
		InitialRetryInterval: time.Millisecond,
		MaxRetryInterval:     5 * time.Millisecond,
		CancelGrace:          time.Second,
	}
}

func newTestManager(opts Options, s acquisition.Strategy, inst Installer) *Manager {
	return NewManager(opts, acquisition.SelectorFunc(func(model.Patch) acquisition.Strategy { return s }), inst)
}

func wait(t *testing.T, m *Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := m.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "session did not finish")
	return err
}

func waitSlotState(t *testing.T, m *Manager, index int, state SlotState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Poll().Slots[index].State == state
	}, waitTimeout, time.Millisecond, "slot %d never reached %s", index, state)
}

func slotOf(t *testing.T, snap Snapshot, name string) SlotSnapshot {
	t.Helper()
	for _, s := range snap.Slots {
		if s.Patch == name {
			return s
		}
	}
	t.Fatalf("no slot holds %s", name)
	return SlotSnapshot{}
}

func TestStart_InvalidConfiguration(t *testing.T) {
	s := newFakeStrategy()
	noSource := testPatches(10)
	noSource[0].URL = ""

	tests := []struct {
		name    string
		patches []model.Patch
		slots   int
	}{
		{"zero slots", testPatches(10), 0},
		{"negative slots", testPatches(10), -1},
		{"no patches", nil, 4},
		{"invalid patch", noSource, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(testOptions(), s, &recordingInstaller{})
			err := m.Start(tt.patches, tt.slots)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.Equal(t, SessionIdle, m.Poll().State)
		})
	}
}

func TestStart_NoTransport(t *testing.T) {
	m := NewManager(testOptions(), acquisition.SelectorFunc(func(model.Patch) acquisition.Strategy { return nil }), &recordingInstaller{})
	assert.ErrorIs(t, m.Start(testPatches(10), 1), ErrInvalidConfiguration)
}

func TestStart_Twice(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10), 1))
	assert.ErrorIs(t, m.Start(testPatches(10), 1), ErrAlreadyStarted)

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestStart_AssignsUpToSlotCount(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10, 10, 10, 10, 10, 10), 4))

	snap := m.Poll()
	require.Len(t, snap.Slots, 4)
	for i, slot := range snap.Slots {
		assert.Equal(t, SlotChecking, slot.State)
		assert.Equal(t, fmt.Sprintf("p%d", i), slot.Patch)
		assert.Equal(t, 1, slot.Attempt)
		assert.True(t, slot.Visible)
	}
	assert.Equal(t, PatchQueued, snap.Patches[4].Outcome)
	assert.Equal(t, PatchActive, snap.Patches[0].Outcome)
	assert.NotEmpty(t, snap.SessionID)

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestManager_InstallsInOriginalOrder(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	inst := &recordingInstaller{}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(100, 200, 300, 400, 500, 600), 4))

	// later patches finish first
	for _, name := range []string{"p3", "p1", "p2"} {
		s.handle(t, name, 1).complete()
	}
	require.Eventually(t, func() bool {
		snap := m.Poll()
		return snap.Patches[1].Outcome == PatchDownloaded &&
			snap.Patches[2].Outcome == PatchDownloaded &&
			snap.Patches[3].Outcome == PatchDownloaded
	}, waitTimeout, time.Millisecond)

	snap := m.Poll()
	assert.Equal(t, 0, snap.Installed)
	assert.Empty(t, inst.names())
	assert.Equal(t, 0, s.attempts("p4"), "no slot is free until p0 installs")

	s.handle(t, "p0", 1).complete()
	require.Eventually(t, func() bool { return m.Poll().Installed == 4 }, waitTimeout, time.Millisecond)

	s.handle(t, "p5", 1).complete()
	s.handle(t, "p4", 1).complete()

	require.NoError(t, wait(t, m))
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4", "p5"}, inst.names())

	snap = m.Poll()
	assert.True(t, snap.Done)
	assert.True(t, snap.Finished)
	assert.Equal(t, SessionCompleted, snap.State)
	assert.Equal(t, 6, snap.Installed)
	assert.Equal(t, "6/6", snap.Status())
	assert.Zero(t, snap.BytesRemaining)
	for _, slot := range snap.Slots {
		assert.Equal(t, SlotIdle, slot.State)
		assert.False(t, slot.Visible)
	}
	for _, p := range snap.Patches {
		assert.Equal(t, PatchInstalled, p.Outcome)
	}
}

func TestManager_InstallCursorMonotonic(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10, 10, 10), 3))

	var last int
	check := func() {
		snap := m.Poll()
		assert.GreaterOrEqual(t, snap.Installed, last)
		last = snap.Installed
	}
	for _, name := range []string{"p2", "p0", "p1"} {
		check()
		s.handle(t, name, 1).complete()
		check()
	}
	require.NoError(t, wait(t, m))
	check()
	assert.Equal(t, 3, last)
}

func TestManager_PercentAndLabel(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(1000), 1))

	h := s.handle(t, "p0", 1)
	slot := m.Poll().Slots[0]
	assert.Equal(t, SlotChecking, slot.State)
	assert.Equal(t, "p0 (checking)", slot.Label())

	h.report(333, 2048)
	slot = m.Poll().Slots[0]
	assert.Equal(t, SlotDownloading, slot.State)
	assert.Equal(t, 33.3, slot.Percent)
	assert.Equal(t, int64(333), slot.Bytes)
	assert.Equal(t, "p0 (33.3%, 2.0 KiB/s)", slot.Label())
	assert.False(t, slot.Torrent)

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestManager_BytesRemainingAndRate(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(1000, 2000, 1500), 2))

	s.handle(t, "p0", 1).report(400, 100)
	s.handle(t, "p1", 1).report(500, 250)

	snap := m.Poll()
	assert.Equal(t, int64(600+1500+1500), snap.BytesRemaining)
	assert.Equal(t, 350.0, snap.Rate)
	assert.Equal(t, "3.5 KiB left at 350 B/s", snap.Remaining())

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestManager_ProgressNeverExceedsLength(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(1000), 1))
	h := s.handle(t, "p0", 1)

	steps := []struct {
		report int64
		want   int64
	}{
		{500, 500},
		{300, 500}, // never goes backwards
		{5000, 1000},
	}
	for _, step := range steps {
		h.report(step.report, 0)
		slot := m.Poll().Slots[0]
		assert.Equal(t, step.want, slot.Bytes)
		assert.LessOrEqual(t, slot.Bytes, slot.Length)
		assert.LessOrEqual(t, slot.Percent, 100.0)
	}

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestManager_TorrentFlag(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	s.kind = acquisition.KindTorrent
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10), 1))

	assert.True(t, m.Poll().Slots[0].Torrent)

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

func TestManager_RetryThenSucceed(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	inst := &recordingInstaller{}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(100), 1))

	first := s.handle(t, "p0", 1)
	first.report(50, 0)
	first.fail()

	second := s.handle(t, "p0", 2)
	assert.Equal(t, 2, m.Poll().Slots[0].Attempt)

	// callbacks of the superseded attempt are ignored
	first.report(90, 0)
	assert.Equal(t, int64(0), m.Poll().Slots[0].Bytes)

	second.complete()
	require.NoError(t, wait(t, m))
	assert.Equal(t, []string{"p0"}, inst.names())
}

func TestManager_StartErrorCountsAsAttempt(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	s.startErr["p0"] = errors.New("bad descriptor")
	opts := testOptions()
	opts.MaxRetries = 1
	m := newTestManager(opts, s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(100), 1))

	err := wait(t, m)
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 2, acqErr.Attempts)
}

func TestManager_RetryExhaustedIsFatal(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	inst := &recordingInstaller{}
	opts := testOptions()
	opts.MaxRetries = 2
	m := newTestManager(opts, s, inst)
	require.NoError(t, m.Start(testPatches(100, 100, 100), 2))

	// p1 is fully downloaded but must never be installed
	s.handle(t, "p1", 1).complete()
	waitSlotState(t, m, 1, SlotDone)

	for attempt := 1; attempt <= 3; attempt++ {
		s.handle(t, "p0", attempt).fail()
	}

	err := wait(t, m)
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, "p0", acqErr.Patch.Name)
	assert.Equal(t, 3, acqErr.Attempts)
	assert.Equal(t, acquisition.ReasonNetwork, acquisition.ReasonOf(err))
	assert.Equal(t, 3, s.attempts("p0"))
	assert.Empty(t, inst.names())

	snap := m.Poll()
	assert.Equal(t, SessionFailed, snap.State)
	assert.Equal(t, "p0", snap.FailedPatch)
	assert.Equal(t, err, snap.Err)
	assert.False(t, snap.Done)
	assert.Equal(t, 0, snap.Installed)
	assert.Equal(t, []PatchStatus{
		{"p0", PatchFailed},
		{"p1", PatchCancelled},
		{"p2", PatchCancelled},
	}, snap.Patches)
	for _, slot := range snap.Slots {
		assert.Equal(t, SlotIdle, slot.State)
	}
}

func TestManager_FatalErrorCancelsOtherSlots(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	opts := testOptions()
	opts.MaxRetries = 0
	m := newTestManager(opts, s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(100, 100), 2))

	other := s.handle(t, "p1", 1)
	other.report(10, 0)
	s.handle(t, "p0", 1).fail()

	select {
	case <-other.Done():
	case <-time.After(waitTimeout):
		t.Fatal("other strategy was not cancelled")
	}
	var acqErr *AcquisitionError
	assert.ErrorAs(t, wait(t, m), &acqErr)
}

func TestManager_InstallFailureIsFatal(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	installErr := errors.New("applier rejected patch")
	inst := &recordingInstaller{fail: map[string]error{"p1": installErr}}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(10, 10, 10), 3))

	s.handle(t, "p2", 1).complete()
	s.handle(t, "p1", 1).complete()
	s.handle(t, "p0", 1).complete()

	err := wait(t, m)
	var instErr *InstallError
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, "p1", instErr.Patch.Name)
	assert.ErrorIs(t, err, installErr)
	assert.Equal(t, []string{"p0"}, inst.names())

	snap := m.Poll()
	assert.Equal(t, "p1", snap.FailedPatch)
	assert.Equal(t, []PatchStatus{
		{"p0", PatchInstalled},
		{"p1", PatchFailed},
		{"p2", PatchCancelled},
	}, snap.Patches)
}

func TestManager_CancelAll(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	inst := &recordingInstaller{}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(100, 100, 100, 100), 2))

	s.handle(t, "p0", 1).complete()
	require.Eventually(t, func() bool { return m.Poll().Installed == 1 }, waitTimeout, time.Millisecond)

	// p2 is downloaded but waits for p1; it must not be installed after cancel
	s.handle(t, "p2", 1).complete()
	require.Eventually(t, func() bool {
		return m.Poll().Patches[2].Outcome == PatchDownloaded
	}, waitTimeout, time.Millisecond)
	s.handle(t, "p1", 1).report(50, 10)

	m.CancelAll()
	m.CancelAll()
	assert.True(t, m.Poll().Cancelled)

	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	m.CancelAll()

	assert.Equal(t, []string{"p0"}, inst.names())
	assert.Zero(t, s.attempts("p3"))

	snap := m.Poll()
	assert.Equal(t, SessionCancelled, snap.State)
	assert.True(t, snap.Cancelled)
	assert.True(t, snap.Finished)
	assert.False(t, snap.Done)
	assert.Equal(t, 1, snap.Installed)
	for _, slot := range snap.Slots {
		assert.Equal(t, SlotIdle, slot.State)
		assert.False(t, slot.Visible)
	}
	assert.Equal(t, []PatchStatus{
		{"p0", PatchInstalled},
		{"p1", PatchCancelled},
		{"p2", PatchCancelled},
		{"p3", PatchCancelled},
	}, snap.Patches)
}

func TestManager_CancelStopsPendingRetry(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	opts := testOptions()
	opts.InitialRetryInterval = time.Hour
	opts.MaxRetryInterval = time.Hour
	m := newTestManager(opts, s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(100), 1))

	s.handle(t, "p0", 1).fail()
	waitSlotState(t, m, 0, SlotFailed)
	slot := m.Poll().Slots[0]
	assert.Equal(t, "p0 (retrying, attempt 2)", slot.Label())
	assert.Error(t, slot.Err)

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	assert.Equal(t, 1, s.attempts("p0"))
}

func TestManager_CancelGrace(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	s.ignoreCancel = true
	opts := testOptions()
	opts.CancelGrace = 50 * time.Millisecond
	m := newTestManager(opts, s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(100), 1))
	h := s.handle(t, "p0", 1)
	h.report(10, 0)

	start := time.Now()
	m.CancelAll()
	assert.Equal(t, SessionCancelling, m.Poll().State)
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	assert.GreaterOrEqual(t, time.Since(start), opts.CancelGrace)

	// the stuck strategy finishing late changes nothing
	h.report(100, 0)
	h.finish(nil)
	time.Sleep(10 * time.Millisecond)
	snap := m.Poll()
	assert.Equal(t, SlotIdle, snap.Slots[0].State)
	assert.Equal(t, SessionCancelled, snap.State)
}

func TestManager_CancelWaitsForRunningInstall(t *testing.T) {
	defer leaktest.Check(t)()

	s := newFakeStrategy()
	inst := &recordingInstaller{block: make(chan struct{})}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(10, 10), 2))

	s.handle(t, "p1", 1).complete()
	s.handle(t, "p0", 1).complete()
	require.Eventually(t, func() bool {
		return m.Poll().Patches[0].Outcome == PatchInstalling
	}, waitTimeout, time.Millisecond)

	// Poll does not block while the installer runs
	done := make(chan Snapshot)
	go func() { done <- m.Poll() }()
	select {
	case snap := <-done:
		assert.Equal(t, SlotDone, slotOf(t, snap, "p0").State)
	case <-time.After(time.Second):
		t.Fatal("Poll blocked during install")
	}

	m.CancelAll()
	select {
	case <-m.Done():
		t.Fatal("session finished while an install was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(inst.block)
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	assert.Equal(t, []string{"p0"}, inst.names())

	snap := m.Poll()
	assert.Equal(t, 1, snap.Installed)
	assert.Equal(t, PatchCancelled, snap.Patches[1].Outcome)
}

func TestManager_CancelBeforeStart(t *testing.T) {
	m := newTestManager(testOptions(), newFakeStrategy(), &recordingInstaller{})
	m.CancelAll()

	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	assert.ErrorIs(t, m.Start(testPatches(10), 1), ErrAlreadyStarted)
	assert.True(t, m.Poll().Cancelled)
}

func TestManager_WaitContext(t *testing.T) {
	defer leaktest.Check(t)()

	m := newTestManager(testOptions(), newFakeStrategy(), &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, SessionRunning, m.Poll().State, "Wait must not cancel the session")

	m.CancelAll()
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
}

// gatedStrategy blocks in Start until gate is closed.
type gatedStrategy struct {
	*fakeStrategy
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedStrategy) Start(ctx context.Context, p model.Patch, dest string, fn acquisition.ProgressFunc) (acquisition.Handle, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.fakeStrategy.Start(ctx, p, dest, fn)
}

func TestManager_SlowStrategyStartDoesNotBlockPoll(t *testing.T) {
	defer leaktest.Check(t)()

	s := &gatedStrategy{fakeStrategy: newFakeStrategy(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	inst := &recordingInstaller{}
	m := newTestManager(testOptions(), s, inst)
	require.NoError(t, m.Start(testPatches(10), 1))
	<-s.entered

	done := make(chan Snapshot)
	go func() { done <- m.Poll() }()
	select {
	case snap := <-done:
		assert.Equal(t, SlotChecking, snap.Slots[0].State)
		assert.Equal(t, "p0 (checking)", snap.Slots[0].Label())
	case <-time.After(time.Second):
		t.Fatal("Poll blocked while a strategy was starting")
	}

	close(s.gate)
	s.handle(t, "p0", 1).complete()
	require.NoError(t, wait(t, m))
	assert.Equal(t, []string{"p0"}, inst.names())
}

func TestManager_CancelWhileStrategyStarting(t *testing.T) {
	defer leaktest.Check(t)()

	s := &gatedStrategy{fakeStrategy: newFakeStrategy(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := newTestManager(testOptions(), s, &recordingInstaller{})
	require.NoError(t, m.Start(testPatches(10), 1))
	<-s.entered

	m.CancelAll()
	assert.Equal(t, SessionCancelling, m.Poll().State)

	// The handle returned after cancellation is cancelled right away.
	close(s.gate)
	assert.ErrorIs(t, wait(t, m), ErrCancelled)
	h := s.handle(t, "p0", 1)
	assert.True(t, h.IsComplete())
	assert.True(t, acquisition.IsAborted(h.Result()))
}
