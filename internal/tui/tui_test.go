package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/patch-downloader/internal/download"
)

type fakeSession struct {
	snap      download.Snapshot
	cancelled int
}

func (f *fakeSession) Poll() download.Snapshot { return f.snap }

func (f *fakeSession) CancelAll() {
	f.cancelled++
	f.snap.Cancelled = true
	f.snap.State = download.SessionCancelling
}

func runningSnapshot() download.Snapshot {
	return download.Snapshot{
		SessionID:      "abc",
		State:          download.SessionRunning,
		Installed:      1,
		Total:          3,
		BytesRemaining: 2048,
		Rate:           1024,
		Slots: []download.SlotSnapshot{
			{Index: 0, State: download.SlotDownloading, Patch: "b.patch", Length: 4096, Bytes: 2048, Rate: 1024, Percent: 50, Visible: true},
			{Index: 1, State: download.SlotDownloading, Patch: "c.patch", Length: 100, Bytes: 10, Percent: 10, Torrent: true, Visible: true},
			{Index: 2, State: download.SlotIdle, Patch: "", Visible: false},
		},
		Patches: []download.PatchStatus{
			{Name: "a.patch", Outcome: download.PatchInstalled},
			{Name: "b.patch", Outcome: download.PatchActive},
			{Name: "c.patch", Outcome: download.PatchActive},
		},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestView_Running(t *testing.T) {
	m := NewModel(&fakeSession{snap: runningSnapshot()}, 0)

	view := m.View()
	assert.Contains(t, view, "Installing patches 1/3")
	assert.Contains(t, view, "b.patch (50.0%, 1.0 KiB/s)")
	assert.Contains(t, view, "c.patch")
	assert.Contains(t, view, "2.0 KiB left at 1.0 KiB/s")
	assert.Contains(t, view, "a.patch (installed)")
	assert.Contains(t, view, "x: cancel session")
}

func TestQuitWhileRunningShowsHint(t *testing.T) {
	session := &fakeSession{snap: runningSnapshot()}
	m := NewModel(session, 0)

	for _, k := range []string{"q", "esc"} {
		next, cmd := update(t, m, key(k))
		assert.False(t, isQuit(cmd), k)
		assert.Contains(t, next.View(), "press x to cancel")
	}
	assert.Zero(t, session.cancelled)
}

func TestCancelKey(t *testing.T) {
	session := &fakeSession{snap: runningSnapshot()}
	m := NewModel(session, 0)

	m, cmd := update(t, m, key("x"))
	assert.Nil(t, cmd)
	assert.Equal(t, 1, session.cancelled)
	assert.Contains(t, m.View(), "Cancelling...")
}

func TestCtrlCQuitsAfterFinish(t *testing.T) {
	session := &fakeSession{snap: runningSnapshot()}
	m := NewModel(session, 0)

	m, cmd := update(t, m, key("ctrl+c"))
	assert.False(t, isQuit(cmd))
	assert.Equal(t, 1, session.cancelled)

	// Still cancelling: keep polling.
	m, cmd = update(t, m, TickMsg{})
	assert.NotNil(t, cmd)

	session.snap.State = download.SessionCancelled
	session.snap.Finished = true
	_, cmd = update(t, m, TickMsg{})
	assert.True(t, isQuit(cmd))
}

func TestFinishedSession(t *testing.T) {
	snap := runningSnapshot()
	snap.State = download.SessionCompleted
	snap.Installed = 3
	snap.Done = true
	snap.Finished = true
	snap.BytesRemaining = 0
	session := &fakeSession{snap: snap}
	m := NewModel(session, 0)

	view := m.View()
	assert.Contains(t, view, "All patches installed!")
	assert.Contains(t, view, "q: quit")

	_, cmd := update(t, m, key("q"))
	assert.True(t, isQuit(cmd))

	// Cancelling a finished session is a no-op.
	_, _ = update(t, m, key("x"))
	assert.Zero(t, session.cancelled)
}

func TestFailedSession(t *testing.T) {
	snap := runningSnapshot()
	snap.State = download.SessionFailed
	snap.Err = errors.New("checksum mismatch")
	snap.FailedPatch = "b.patch"
	snap.Finished = true
	m := NewModel(&fakeSession{snap: snap}, 0)

	view := m.View()
	assert.Contains(t, view, "Failed on b.patch")
	assert.Contains(t, view, "checksum mismatch")
	assert.Contains(t, view, "1/3 patches installed")
}

func TestWindowResize(t *testing.T) {
	m := NewModel(&fakeSession{snap: runningSnapshot()}, 0)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 20})
	assert.Equal(t, 40, m.httpBar.Width)
	assert.Equal(t, 40, m.torrentBar.Width)
}
