package download

import (
	"context"

	"github.com/handiism/patch-downloader/internal/model"
)

// Installer applies a downloaded patch. It is called strictly in the
// original patch order, one patch at a time, once all bytes of the patch are
// on disk at localPath.
type Installer interface {
	Install(ctx context.Context, p model.Patch, localPath string) error
}

// InstallerFunc adapts a function to an Installer.
type InstallerFunc func(ctx context.Context, p model.Patch, localPath string) error

func (f InstallerFunc) Install(ctx context.Context, p model.Patch, localPath string) error {
	return f(ctx, p, localPath)
}
