package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handiism/patch-downloader/internal/acquisition"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/metrics"
	"github.com/handiism/patch-downloader/internal/model"
)

// Options configures retry and cancellation behaviour of a Manager.
type Options struct {
	// MaxRetries is the number of retries per patch after its first attempt
	// fails. Exceeding it fails the whole session.
	MaxRetries int

	// InitialRetryInterval and MaxRetryInterval bound the exponential
	// backoff between attempts.
	InitialRetryInterval time.Duration
	MaxRetryInterval     time.Duration

	// CancelGrace is how long strategies get to acknowledge cancellation
	// before their slots are released anyway.
	CancelGrace time.Duration
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		MaxRetries:           3,
		InitialRetryInterval: time.Second,
		MaxRetryInterval:     30 * time.Second,
		CancelGrace:          5 * time.Second,
	}
}

// Manager downloads an ordered list of patches through a fixed number of
// slots and installs them strictly in list order.
//
// All state lives behind one mutex. Strategy callbacks, retry timers and the
// installer goroutine take it for short, non-blocking updates, and Poll takes
// it only to copy the state out.
type Manager struct {
	opts      Options
	selector  acquisition.Selector
	installer Installer
	log       logger.Logger

	mu       sync.Mutex
	id       string
	state    SessionState
	patches  []model.Patch
	outcomes []PatchOutcome
	slots    []*slot

	// next is the index of the first patch not yet assigned to a slot,
	// cursor the index of the first patch not yet installed.
	next       int
	cursor     int
	installing bool
	err        error
	failed     int
	finished   bool
	grace      *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// NewManager creates a Manager. Zero option values are replaced with
// defaults; a negative MaxRetries disables retries.
func NewManager(opts Options, selector acquisition.Selector, installer Installer) *Manager {
	def := DefaultOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialRetryInterval <= 0 {
		opts.InitialRetryInterval = def.InitialRetryInterval
	}
	if opts.MaxRetryInterval < opts.InitialRetryInterval {
		opts.MaxRetryInterval = max(def.MaxRetryInterval, opts.InitialRetryInterval)
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = def.CancelGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		selector:  selector,
		installer: installer,
		log:       logger.New("download"),
		id:        uuid.NewString(),
		state:     SessionIdle,
		failed:    -1,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the session ID.
func (m *Manager) ID() string {
	return m.id
}

// Start validates the configuration and begins downloading patches with
// slotCount concurrent slots. Up to min(slotCount, len(patches)) patches are
// assigned to slots, in Checking, before Start returns.
//
// Returns ErrInvalidConfiguration for a slot count below one, an empty
// patch list, an invalid patch or a patch no strategy can fetch, and
// ErrAlreadyStarted if the session was started or cancelled before.
func (m *Manager) Start(patches []model.Patch, slotCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != SessionIdle {
		return ErrAlreadyStarted
	}
	if slotCount < 1 {
		return fmt.Errorf("%w: slot count must be at least 1, got %d", ErrInvalidConfiguration, slotCount)
	}
	if len(patches) == 0 {
		return fmt.Errorf("%w: no patches", ErrInvalidConfiguration)
	}
	if m.selector == nil || m.installer == nil {
		return fmt.Errorf("%w: selector and installer are required", ErrInvalidConfiguration)
	}
	for i, p := range patches {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: patch %d: %w", ErrInvalidConfiguration, i, err)
		}
		if m.selector.Select(p) == nil {
			return fmt.Errorf("%w: patch %d: no transport available for %s", ErrInvalidConfiguration, i, p.Name)
		}
	}

	m.patches = append([]model.Patch(nil), patches...)
	m.outcomes = make([]PatchOutcome, len(patches))
	for i := range m.outcomes {
		m.outcomes[i] = PatchQueued
	}
	m.slots = make([]*slot, slotCount)
	for i := range m.slots {
		m.slots[i] = newSlot(i, m.opts)
	}
	m.state = SessionRunning
	m.log.Infof("session %s: %d patches, %d slots", m.id, len(patches), slotCount)

	go m.installLoop()
	m.assign()
	m.updateMetrics()
	return nil
}

// Poll returns a copy of the current session state. It never waits for
// downloads or installs.
func (m *Manager) Poll() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		SessionID: m.id,
		State:     m.state,
		Installed: m.cursor,
		Total:     len(m.patches),
		Done:      m.state == SessionCompleted,
		Cancelled: m.state == SessionCancelling || m.state == SessionCancelled,
		Finished:  m.finished,
		Err:       m.err,
		Slots:     make([]SlotSnapshot, len(m.slots)),
		Patches:   make([]PatchStatus, len(m.patches)),
	}
	if m.failed >= 0 {
		snap.FailedPatch = m.patches[m.failed].Name
	}
	snap.BytesRemaining, snap.Rate = m.totals()

	for i, s := range m.slots {
		ss := SlotSnapshot{
			Index:   i,
			State:   s.state,
			Attempt: s.attempt,
			Err:     s.lastErr,
		}
		if s.patch >= 0 {
			p := m.patches[s.patch]
			ss.Patch = p.Name
			ss.Length = p.Length
			ss.Bytes = s.bytes
			ss.Rate = s.rate
			ss.Percent = Percent(s.bytes, p.Length)
			ss.Torrent = s.kind == acquisition.KindTorrent
			ss.Visible = !m.finished
		}
		snap.Slots[i] = ss
	}
	for i, p := range m.patches {
		snap.Patches[i] = PatchStatus{Name: p.Name, Outcome: m.outcomes[i]}
	}
	return snap
}

// CancelAll stops the session. Active strategies are cancelled, pending
// retries and queued patches are dropped and no further patch is installed.
// Slots whose strategy does not stop within the cancel grace period are
// released anyway. The session ends in SessionCancelled.
//
// CancelAll is idempotent and returns without waiting; use Wait or Done to
// observe the end of the session.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case SessionIdle:
		m.state = SessionCancelling
		m.finish()
	case SessionRunning:
		m.log.Notice("cancelling session")
		m.state = SessionCancelling
		m.teardown()
	}
}

// Done returns a channel closed once the session has ended and all slots
// are idle.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the session ends or ctx is done. It returns nil when all
// patches were installed, ErrCancelled after CancelAll, and the fatal
// *AcquisitionError or *InstallError otherwise.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case SessionCompleted:
		return nil
	case SessionCancelled:
		return ErrCancelled
	default:
		return m.err
	}
}

// assign hands queued patches to idle slots in FIFO order.
func (m *Manager) assign() {
	for _, s := range m.slots {
		if m.state != SessionRunning || m.next >= len(m.patches) {
			return
		}
		if s.state != SlotIdle {
			continue
		}
		s.patch = m.next
		s.attempt = 1
		s.backoff.Reset()
		m.outcomes[m.next] = PatchActive
		m.next++
		m.startAttempt(s)
	}
}

// startAttempt moves s to Checking and starts a strategy for its patch. The
// strategy is started on its own goroutine so a slow Start never holds the
// manager lock.
func (m *Manager) startAttempt(s *slot) {
	if err := s.transition(SlotChecking); err != nil {
		m.log.Errorf("slot %d: %s", s.index, err)
		return
	}
	s.gen++
	s.bytes = 0
	s.rate = 0

	p := m.patches[s.patch]
	strategy := m.selector.Select(p)
	if strategy == nil {
		m.attemptFailed(s, fmt.Errorf("no transport available for %s", p.Name))
		return
	}
	s.kind = strategy.Kind()
	metrics.AcquisitionsStarted.WithLabelValues(s.kind.String()).Inc()
	m.log.Infof("slot %d: %s attempt %d via %s", s.index, p.Name, s.attempt, s.kind)

	go m.launch(s.index, s.gen, strategy, p)
}

// launch calls strategy.Start without the lock and attaches the handle to
// the slot, unless the attempt was superseded in the meantime.
func (m *Manager) launch(index int, gen uint64, strategy acquisition.Strategy, p model.Patch) {
	h, err := strategy.Start(m.ctx, p, p.Destination, func(done int64, rate float64) {
		m.onProgress(index, gen, done, rate)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[index]
	if s.gen != gen || !s.state.Active() {
		if h != nil {
			h.Cancel()
		}
		return
	}
	if err != nil {
		if m.state != SessionRunning {
			m.abandon(s)
			m.checkTerminal()
			return
		}
		m.attemptFailed(s, err)
		return
	}

	s.handle = h
	if m.state != SessionRunning {
		h.Cancel()
	}
	go func() {
		<-h.Done()
		m.onFinished(index, gen, h.Result())
	}()
}

func (m *Manager) onProgress(index int, gen uint64, done int64, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[index]
	if s.gen != gen || !s.state.Active() {
		return
	}
	if s.state == SlotChecking {
		if err := s.transition(SlotDownloading); err != nil {
			m.log.Errorf("slot %d: %s", index, err)
			return
		}
	}
	if length := m.patches[s.patch].Length; length > 0 && done > length {
		done = length
	}
	if done > s.bytes {
		s.bytes = done
	}
	s.rate = max(rate, 0)
	m.updateMetrics()
}

func (m *Manager) onFinished(index int, gen uint64, result error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[index]
	if s.gen != gen || !s.state.Active() {
		return
	}
	s.handle = nil

	if m.state != SessionRunning {
		m.log.Debugf("slot %d: strategy stopped", index)
		m.abandon(s)
		m.checkTerminal()
		return
	}
	if result != nil {
		m.attemptFailed(s, result)
		return
	}

	p := m.patches[s.patch]
	if err := s.transition(SlotDone); err != nil {
		m.log.Errorf("slot %d: %s", index, err)
		return
	}
	if p.Length > 0 {
		s.bytes = p.Length
	}
	s.rate = 0
	m.outcomes[s.patch] = PatchDownloaded
	m.log.Infof("slot %d: %s downloaded", index, p.Name)
	m.updateMetrics()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// attemptFailed moves s to Failed and either schedules a retry or fails the
// session when the retry bound is exceeded.
func (m *Manager) attemptFailed(s *slot, err error) {
	p := m.patches[s.patch]
	if terr := s.transition(SlotFailed); terr != nil {
		m.log.Errorf("slot %d: %s", s.index, terr)
		return
	}
	s.rate = 0
	s.handle = nil
	s.lastErr = err
	metrics.AcquisitionFailures.WithLabelValues(acquisition.ReasonOf(err).String()).Inc()

	if s.attempt > m.opts.MaxRetries {
		m.log.Errorf("slot %d: %s failed after %d attempts: %s", s.index, p.Name, s.attempt, err)
		m.fail(s.patch, &AcquisitionError{Patch: p, Attempts: s.attempt, Err: err})
		return
	}

	delay := s.backoff.NextBackOff()
	m.log.Warningf("slot %d: %s attempt %d failed: %s, retrying in %s", s.index, p.Name, s.attempt, err, delay)
	metrics.Retries.Inc()
	index, gen := s.index, s.gen
	s.retry = time.AfterFunc(delay, func() {
		m.retryAttempt(index, gen)
	})
	m.updateMetrics()
}

func (m *Manager) retryAttempt(index int, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[index]
	if s.gen != gen || s.state != SlotFailed || m.state != SessionRunning {
		return
	}
	s.retry = nil
	s.attempt++
	m.startAttempt(s)
	m.updateMetrics()
}

// installLoop runs the installer for downloaded patches in order until the
// session ends.
func (m *Manager) installLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		for m.installNext() {
		}
	}
}

// installNext installs the patch at the cursor if it is downloaded and
// reports whether another install may be possible. The mutex is released
// while the installer runs.
func (m *Manager) installNext() bool {
	m.mu.Lock()
	if m.state != SessionRunning || m.cursor >= len(m.patches) {
		m.mu.Unlock()
		return false
	}
	s := m.slotFor(m.cursor)
	if s == nil || s.state != SlotDone {
		m.mu.Unlock()
		return false
	}
	index := m.cursor
	p := m.patches[index]
	m.installing = true
	m.outcomes[index] = PatchInstalling
	m.mu.Unlock()

	m.log.Infof("installing %s (%d/%d)", p.Name, index+1, len(m.patches))
	start := time.Now()
	err := m.installer.Install(m.ctx, p, p.Destination)
	metrics.InstallDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.installing = false

	if err != nil {
		m.log.Errorf("install %s: %s", p.Name, err)
		if m.state == SessionRunning {
			m.fail(index, &InstallError{Patch: p, Err: err})
		} else {
			m.abandon(s)
			m.checkTerminal()
		}
		return false
	}

	m.outcomes[index] = PatchInstalled
	m.cursor++
	metrics.PatchesInstalled.Inc()
	if rerr := s.release(); rerr != nil {
		m.log.Errorf("slot %d: %s", s.index, rerr)
	}

	if m.state != SessionRunning {
		m.checkTerminal()
		return false
	}
	if m.cursor == len(m.patches) {
		m.state = SessionCompleted
		m.finish()
		return false
	}
	m.assign()
	m.updateMetrics()
	return true
}

func (m *Manager) slotFor(patch int) *slot {
	for _, s := range m.slots {
		if s.patch == patch {
			return s
		}
	}
	return nil
}

// fail ends a running session with a fatal error attributed to patch.
func (m *Manager) fail(patch int, err error) {
	if m.state != SessionRunning {
		return
	}
	m.state = SessionFailed
	m.err = err
	m.failed = patch
	m.outcomes[patch] = PatchFailed
	m.teardown()
}

// teardown stops all work after the session left SessionRunning.
func (m *Manager) teardown() {
	for _, s := range m.slots {
		s.stopRetry()
		switch {
		case s.state.Active():
			if s.handle != nil {
				s.handle.Cancel()
			}
		case s.state == SlotDone && m.installing && s.patch == m.cursor:
			// released when the running install returns
		default:
			m.abandon(s)
		}
	}
	for i := m.next; i < len(m.patches); i++ {
		m.outcomes[i] = PatchCancelled
	}

	if !m.checkTerminal() && m.grace == nil {
		m.grace = time.AfterFunc(m.opts.CancelGrace, m.graceExpired)
	}
	m.updateMetrics()
}

// graceExpired releases slots whose strategies ignored cancellation.
func (m *Manager) graceExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grace = nil
	if m.finished {
		return
	}
	for _, s := range m.slots {
		if s.state.Active() {
			m.log.Warningf("slot %d: strategy did not stop within %s, releasing", s.index, m.opts.CancelGrace)
			m.abandon(s)
		}
	}
	m.checkTerminal()
}

// abandon releases s during teardown, marking its patch cancelled unless it
// already has a final outcome.
func (m *Manager) abandon(s *slot) {
	if s.patch >= 0 {
		switch m.outcomes[s.patch] {
		case PatchInstalled, PatchFailed:
		default:
			m.outcomes[s.patch] = PatchCancelled
		}
	}
	if err := s.release(); err != nil {
		m.log.Errorf("slot %d: %s", s.index, err)
	}
}

// checkTerminal finishes a stopping session once every slot is idle and no
// install is running. It reports whether the session is finished.
func (m *Manager) checkTerminal() bool {
	if m.finished {
		return true
	}
	if m.installing {
		return false
	}
	for _, s := range m.slots {
		if s.state != SlotIdle {
			return false
		}
	}
	m.finish()
	return true
}

func (m *Manager) finish() {
	if m.state == SessionCancelling {
		m.state = SessionCancelled
	}
	m.finished = true
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	m.cancel()
	close(m.done)

	metrics.Sessions.WithLabelValues(string(m.state)).Inc()
	m.updateMetrics()
	if m.err != nil {
		m.log.Errorf("session %s %s: %s", m.id, m.state, m.err)
	} else {
		m.log.Infof("session %s %s, %d/%d installed", m.id, m.state, m.cursor, len(m.patches))
	}
}

// totals returns the bytes remaining and the aggregate rate.
func (m *Manager) totals() (remaining int64, rate float64) {
	if m.state == SessionCompleted {
		return 0, 0
	}
	for _, s := range m.slots {
		if s.patch < 0 {
			continue
		}
		remaining += max(m.patches[s.patch].Length-s.bytes, 0)
		rate += s.rate
	}
	for _, p := range m.patches[m.next:] {
		remaining += p.Length
	}
	return remaining, rate
}

func (m *Manager) updateMetrics() {
	busy := 0
	for _, s := range m.slots {
		if s.state != SlotIdle {
			busy++
		}
	}
	remaining, rate := m.totals()
	metrics.SlotsBusy.Set(float64(busy))
	metrics.BytesRemaining.Set(float64(remaining))
	metrics.DownloadRateBytes.Set(rate)
}
