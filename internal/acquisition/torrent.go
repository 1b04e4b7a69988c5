package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	ioutils "github.com/handiism/patch-downloader/internal/io"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/model"
)

// ErrMultiFileTorrent is returned for torrents that do not hold exactly one
// file.
var ErrMultiFileTorrent = errors.New("torrent must contain exactly one file")

// TorrentOptions configures the torrent client.
type TorrentOptions struct {
	// DataDir is where pieces are stored while downloading.
	DataDir string

	// ListenPort is the peer listen port. Zero picks a random port.
	ListenPort int

	// NoUpload disables uploading to peers.
	NoUpload bool
}

// Torrent fetches patches from a swarm described by a magnet URI or a
// .torrent file. One client is shared by every acquisition; Close it when
// the session ends.
type Torrent struct {
	client  *torrent.Client
	dataDir string
	log     logger.Logger
}

// NewTorrent starts a torrent client.
func NewTorrent(opts TorrentOptions) (*Torrent, error) {
	cfg := torrent.NewDefaultClientConfig()
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	cfg.ListenPort = opts.ListenPort
	cfg.NoUpload = opts.NoUpload
	cfg.Seed = false

	if err := ioutils.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}
	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("start torrent client: %w", err)
	}
	return &Torrent{
		client:  client,
		dataDir: cfg.DataDir,
		log:     logger.New("torrent"),
	}, nil
}

// Kind returns KindTorrent.
func (s *Torrent) Kind() Kind { return KindTorrent }

// Close shuts the client down.
func (s *Torrent) Close() error {
	return errors.Join(s.client.Close()...)
}

// Start begins downloading the patch's torrent. Loading the descriptor and
// adding it to the client happen on the task goroutine, so Start returns
// without waiting; a bad descriptor is reported through Result.
func (s *Torrent) Start(ctx context.Context, p model.Patch, dest string, onProgress ProgressFunc) (Handle, error) {
	if !p.HasTorrent() {
		return nil, fmt.Errorf("%s: %w", p.Name, model.ErrNoSource)
	}
	return startTask(ctx, func(ctx context.Context) error {
		t, err := s.add(p.Torrent)
		if err != nil {
			return fail(ReasonNetwork, fmt.Errorf("%s: add torrent: %w", p.Name, err))
		}
		var once sync.Once
		drop := func() { once.Do(t.Drop) }
		defer drop()
		return s.run(ctx, t, drop, p, dest, onProgress)
	}), nil
}

func (s *Torrent) add(descriptor string) (*torrent.Torrent, error) {
	if strings.HasPrefix(descriptor, "magnet:") {
		return s.client.AddMagnet(descriptor)
	}
	mi, err := metainfo.LoadFromFile(descriptor)
	if err != nil {
		return nil, &Failure{Reason: ReasonDisk, Err: err}
	}
	return s.client.AddTorrent(mi)
}

func (s *Torrent) run(ctx context.Context, t *torrent.Torrent, drop func(), p model.Patch, dest string, onProgress ProgressFunc) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.GotInfo():
	}

	files := t.Files()
	if len(files) != 1 {
		return &Failure{Reason: ReasonIntegrity, Err: fmt.Errorf("%w: has %d", ErrMultiFileTorrent, len(files))}
	}
	length := t.Length()
	if p.Length > 0 && length != p.Length {
		return &Failure{
			Reason: ReasonIntegrity,
			Err:    fmt.Errorf("%w: torrent has %d bytes, want %d", ErrSizeMismatch, length, p.Length),
		}
	}
	s.log.Infof("%s: metadata received, %d bytes", p.Name, length)

	reporter := newProgressReporter(onProgress, length)
	t.DownloadAll()
	reporter.Set(t.BytesCompleted())

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	for t.BytesMissing() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reporter.Set(t.BytesCompleted())
		}
	}

	src := filepath.Join(s.dataDir, filepath.FromSlash(files[0].Path()))
	drop()
	if err := ioutils.MoveFile(ctx, src, dest); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	if err := verifyFile(ctx, dest, length, p.Hash); err != nil {
		if ReasonOf(err) == ReasonIntegrity {
			os.Remove(dest)
		}
		return err
	}
	reporter.Set(length)
	return nil
}
