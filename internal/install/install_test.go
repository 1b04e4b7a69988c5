package install

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/patch-downloader/internal/download"
	"github.com/handiism/patch-downloader/internal/model"
)

func writePatch(t *testing.T) (model.Patch, string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "D2023.04.28.0000.0001.patch")
	require.NoError(t, os.WriteFile(src, []byte("patch"), 0644))
	return model.Patch{Name: "D2023.04.28.0000.0001", Length: 5, Destination: src}, src
}

func TestCopy(t *testing.T) {
	p, src := writePatch(t)
	dir := filepath.Join(t.TempDir(), "game", "patches")

	require.NoError(t, (&Copy{Dir: dir}).Install(context.Background(), p, src))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(src)))
	require.NoError(t, err)
	assert.Equal(t, "patch", string(data))
}

func TestCopy_MissingSource(t *testing.T) {
	p := model.Patch{Name: "missing"}
	err := (&Copy{Dir: t.TempDir()}).Install(context.Background(), p, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestCommand_Environment(t *testing.T) {
	requireShell(t)
	p, src := writePatch(t)
	out := filepath.Join(t.TempDir(), "env")

	cmd := &Command{Args: []string{"sh", "-c", `printf '%s|%s|%s' "$PATCH_NAME" "$PATCH_PATH" "$PATCH_LENGTH" > "$OUT"`}}
	t.Setenv("OUT", out)
	require.NoError(t, cmd.Install(context.Background(), p, src))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "D2023.04.28.0000.0001|"+src+"|5", string(data))
}

func TestCommand_NonZeroExit(t *testing.T) {
	requireShell(t)
	p, src := writePatch(t)

	err := (&Command{Args: []string{"sh", "-c", "echo boom; exit 3"}}).Install(context.Background(), p, src)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestCommand_NoArgs(t *testing.T) {
	p, src := writePatch(t)
	assert.ErrorIs(t, (&Command{}).Install(context.Background(), p, src), ErrNoCommand)
}

func TestChain(t *testing.T) {
	p, src := writePatch(t)
	var calls []string
	record := func(name string, err error) download.Installer {
		return download.InstallerFunc(func(context.Context, model.Patch, string) error {
			calls = append(calls, name)
			return err
		})
	}
	boom := errors.New("boom")

	require.NoError(t, Chain(record("a", nil), record("b", nil)).Install(context.Background(), p, src))
	assert.Equal(t, []string{"a", "b"}, calls)

	calls = nil
	err := Chain(record("a", boom), record("b", nil)).Install(context.Background(), p, src)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, calls)
}
