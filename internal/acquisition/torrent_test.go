package acquisition

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/patch-downloader/internal/model"
)

func newTestTorrent(t *testing.T) *Torrent {
	t.Helper()
	s, err := NewTorrent(TorrentOptions{DataDir: t.TempDir(), NoUpload: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTorrent_Kind(t *testing.T) {
	assert.Equal(t, KindTorrent, newTestTorrent(t).Kind())
	assert.Equal(t, "torrent", KindTorrent.String())
}

func TestTorrent_StartErrors(t *testing.T) {
	s := newTestTorrent(t)

	_, err := s.Start(context.Background(), model.Patch{Name: "h", URL: "http://x/h"}, "dest", nil)
	assert.ErrorIs(t, err, model.ErrNoSource)

}

func TestTorrent_BadDescriptorReportedThroughHandle(t *testing.T) {
	s := newTestTorrent(t)
	missing := model.Patch{Name: "m", Torrent: filepath.Join(t.TempDir(), "missing.torrent")}

	start := time.Now()
	h, err := s.Start(context.Background(), missing, "dest", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("handle did not finish")
	}
	assert.Equal(t, ReasonDisk, ReasonOf(h.Result()))
	assert.False(t, IsAborted(h.Result()))
}

func TestTorrent_CancelWhileWaitingForMetadata(t *testing.T) {
	s := newTestTorrent(t)
	p := model.Patch{
		Name:        "D2023.04.28.0000.0001",
		Torrent:     "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567",
		Destination: filepath.Join(t.TempDir(), "p.patch"),
	}

	var progressed bool
	h, err := s.Start(context.Background(), p, p.Destination, func(int64, float64) { progressed = true })
	require.NoError(t, err)

	h.Cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancel was not acknowledged")
	}
	assert.True(t, IsAborted(h.Result()))
	assert.False(t, progressed)
}
