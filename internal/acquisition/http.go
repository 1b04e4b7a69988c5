package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/handiism/patch-downloader/internal/http"
	ioutils "github.com/handiism/patch-downloader/internal/io"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/model"
)

// partSuffix is appended to the destination path while a transfer is in
// progress.
const partSuffix = ".part"

// segSuffix names the preallocated file of a segmented transfer. Its size
// says nothing about how much was written, so it is never resumed.
const segSuffix = ".seg"

// HTTPOptions configures the HTTP strategy.
type HTTPOptions struct {
	// Segments is the number of concurrent ranged requests used for fresh
	// downloads. Values below 2 disable segmentation.
	Segments int

	// MinSegmentSize is the smallest patch length that is segmented.
	MinSegmentSize int64
}

// DefaultHTTPOptions returns the default HTTP strategy options.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Segments:       4,
		MinSegmentSize: 16 << 20,
	}
}

// HTTP fetches patches from their HTTP(S) URL.
//
// A transfer goes through these steps:
//   - An existing destination file of the right size and checksum is
//     accepted without any request.
//   - A <dest>.part file left over from an earlier sequential attempt is
//     resumed when the server accepts ranges.
//   - Fresh downloads of large patches are split into concurrent ranges
//     written to <dest>.seg, which always starts over.
//   - The temporary file is verified and renamed to dest.
type HTTP struct {
	client *http.Client
	opts   HTTPOptions
	log    logger.Logger
}

// NewHTTP returns an HTTP strategy using client.
func NewHTTP(client *http.Client, opts HTTPOptions) *HTTP {
	return &HTTP{
		client: client,
		opts:   opts,
		log:    logger.New("http"),
	}
}

// Kind returns KindHTTP.
func (h *HTTP) Kind() Kind { return KindHTTP }

// Start begins downloading p to dest.
func (h *HTTP) Start(ctx context.Context, p model.Patch, dest string, onProgress ProgressFunc) (Handle, error) {
	if !p.HasURL() {
		return nil, fmt.Errorf("%s: %w", p.Name, model.ErrNoSource)
	}
	return startTask(ctx, func(ctx context.Context) error {
		return h.run(ctx, p, dest, onProgress)
	}), nil
}

func (h *HTTP) run(ctx context.Context, p model.Patch, dest string, onProgress ProgressFunc) error {
	if p.Length > 0 {
		size, err := ioutils.FileSize(dest)
		if err != nil {
			return &Failure{Reason: ReasonDisk, Err: err}
		}
		if size == p.Length {
			if err := verifyFile(ctx, dest, p.Length, p.Hash); err == nil {
				h.log.Infof("%s already present at %s", p.Name, dest)
				newProgressReporter(onProgress, p.Length).Set(p.Length)
				return nil
			}
			h.log.Warningf("%s: existing file failed verification, downloading again", p.Name)
		}
	}

	info, err := h.client.Head(ctx, p.URL)
	if err != nil {
		return &Failure{Reason: ReasonNetwork, Err: err}
	}
	length := p.Length
	if length == 0 {
		length = max(info.Size, 0)
	} else if info.Size > 0 && info.Size != length {
		return &Failure{
			Reason: ReasonIntegrity,
			Err:    fmt.Errorf("%w: server reports %d bytes, want %d", ErrSizeMismatch, info.Size, length),
		}
	}

	if err := ioutils.EnsureDir(filepath.Dir(dest)); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	part := dest + partSuffix
	partSize, err := ioutils.FileSize(part)
	if err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}

	reporter := newProgressReporter(onProgress, length)
	tmp := part
	if partSize <= 0 && h.segmented(info, length) {
		tmp = dest + segSuffix
		err = h.fetchSegments(ctx, p, tmp, length, reporter)
	} else {
		err = h.fetchSequential(ctx, p, part, partSize, length, info.AcceptsRanges, reporter)
	}
	if err != nil {
		return err
	}

	if err := verifyFile(ctx, tmp, length, p.Hash); err != nil {
		if ReasonOf(err) == ReasonIntegrity {
			os.Remove(tmp)
		}
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	reporter.Set(length)
	return nil
}

func (h *HTTP) segmented(info *http.FileInfo, length int64) bool {
	return h.opts.Segments > 1 && info.AcceptsRanges && length > 0 && length >= h.opts.MinSegmentSize
}

// fetchSequential appends the remaining bytes to part, resuming from
// partSize when possible.
func (h *HTTP) fetchSequential(ctx context.Context, p model.Patch, part string, partSize, length int64, ranges bool, reporter *progressReporter) error {
	if partSize > 0 && (!ranges || (length > 0 && partSize > length)) {
		h.log.Debugf("%s: discarding %d byte part file", p.Name, partSize)
		partSize = 0
	}
	if partSize < 0 {
		partSize = 0
	}
	// A full-length part is only trusted when its checksum proves it.
	if length > 0 && partSize == length {
		if p.Hash != "" && verifyFile(ctx, part, length, p.Hash) == nil {
			reporter.Set(partSize)
			return nil
		}
		h.log.Debugf("%s: full-length part file is unverified, downloading again", p.Name)
		partSize = 0
	}

	flags := os.O_CREATE | os.O_WRONLY
	if partSize == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	defer f.Close()
	if _, err := f.Seek(partSize, io.SeekStart); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}

	if partSize > 0 {
		h.log.Infof("%s: resuming at byte %d", p.Name, partSize)
	}
	reporter.Set(partSize)

	w := &http.ProgressWriter{Writer: diskWriter{f}, OnUpdate: reporter.Add}
	if _, err := h.client.Fetch(ctx, p.URL, partSize, -1, w); err != nil {
		return fail(ReasonNetwork, err)
	}
	if err := f.Sync(); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	return nil
}

// fetchSegments downloads length bytes into seg with concurrent ranged
// requests. The file is removed on failure.
func (h *HTTP) fetchSegments(ctx context.Context, p model.Patch, seg string, length int64, reporter *progressReporter) (err error) {
	f, err := os.OpenFile(seg, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = &Failure{Reason: ReasonDisk, Err: cerr}
		}
		if err != nil {
			os.Remove(seg)
		}
	}()
	if err := f.Truncate(length); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}

	segments := int64(h.opts.Segments)
	segSize := (length + segments - 1) / segments
	h.log.Debugf("%s: fetching %d bytes in %d segments", p.Name, length, segments)
	reporter.Set(0)

	g, gctx := errgroup.WithContext(ctx)
	for start := int64(0); start < length; start += segSize {
		start := start
		end := min(start+segSize, length) - 1
		g.Go(func() error {
			w := &http.ProgressWriter{
				Writer:   diskWriter{io.NewOffsetWriter(f, start)},
				OnUpdate: reporter.Add,
			}
			n, err := h.client.Fetch(gctx, p.URL, start, end, w)
			if err != nil {
				return fail(ReasonNetwork, err)
			}
			if n != end-start+1 {
				return &Failure{Reason: ReasonNetwork, Err: io.ErrUnexpectedEOF}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return &Failure{Reason: ReasonNetwork, Err: err}
		}
		return err
	}
	if err := f.Sync(); err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	return nil
}
