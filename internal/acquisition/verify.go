package acquisition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/handiism/patch-downloader/internal/model"
)

// verifyFile checks the size of the file at path against length (when
// length > 0) and its contents against hash (when hash is not empty).
func verifyFile(ctx context.Context, path string, length int64, hash string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	if length > 0 && info.Size() != length {
		return &Failure{
			Reason: ReasonIntegrity,
			Err:    fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, info.Size(), length),
		}
	}
	if hash == "" {
		return nil
	}

	sum, err := model.ParseChecksum(hash)
	if err != nil {
		return &Failure{Reason: ReasonIntegrity, Err: err}
	}
	h := sum.New()
	if _, err := io.Copy(h, &contextReader{ctx: ctx, r: f}); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &Failure{Reason: ReasonDisk, Err: err}
	}
	if got := h.Sum(nil); !bytes.Equal(got, sum.Sum) {
		return &Failure{
			Reason: ReasonIntegrity,
			Err:    fmt.Errorf("%w: %s", ErrChecksumMismatch, sum.Algorithm),
		}
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// diskWriter marks write errors as disk failures so they are not mistaken
// for network errors surfacing from the same copy loop.
type diskWriter struct {
	w io.Writer
}

func (d diskWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		err = &Failure{Reason: ReasonDisk, Err: err}
	}
	return n, err
}
