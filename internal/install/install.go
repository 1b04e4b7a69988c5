package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/handiism/patch-downloader/internal/download"
	ioutils "github.com/handiism/patch-downloader/internal/io"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/model"
)

// ErrNoCommand is returned by Command.Install when Args is empty.
var ErrNoCommand = errors.New("install: no command configured")

var (
	_ download.Installer = (*Copy)(nil)
	_ download.Installer = (*Command)(nil)
)

// Copy installs a patch by copying the downloaded file into Dir.
type Copy struct {
	Dir string
}

// Install copies localPath to Dir under the patch's sanitized file name.
func (c *Copy) Install(ctx context.Context, p model.Patch, localPath string) error {
	dst := filepath.Join(c.Dir, ioutils.SanitizeFileName(filepath.Base(localPath)))
	if err := ioutils.CopyFile(ctx, localPath, dst); err != nil {
		return fmt.Errorf("copy %s: %w", p.Name, err)
	}
	return nil
}

// Command installs a patch by running an external applier.
//
// The patch is described to the process through the environment:
//
//	PATCH_NAME    the version token
//	PATCH_PATH    the downloaded file
//	PATCH_LENGTH  the expected length in bytes
//
// A non-zero exit status fails the install. Output is logged line by line.
type Command struct {
	Args []string
	Dir  string
}

// Install runs the command and waits for it to exit.
func (c *Command) Install(ctx context.Context, p model.Patch, localPath string) error {
	if len(c.Args) == 0 {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(),
		"PATCH_NAME="+p.Name,
		"PATCH_PATH="+localPath,
		"PATCH_LENGTH="+strconv.FormatInt(p.Length, 10),
	)

	log := logger.New("install")
	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			log.Debugf("%s: %s", p.Name, line)
		}
	}
	if err != nil {
		return fmt.Errorf("run %s for %s: %w", c.Args[0], p.Name, err)
	}
	return nil
}

// Chain runs installers in order and stops at the first failure.
func Chain(installers ...download.Installer) download.Installer {
	return chain(installers)
}

type chain []download.Installer

func (c chain) Install(ctx context.Context, p model.Patch, localPath string) error {
	for _, i := range c {
		if err := i.Install(ctx, p, localPath); err != nil {
			return err
		}
	}
	return nil
}
