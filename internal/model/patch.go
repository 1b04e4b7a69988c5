package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Errors returned by Patch.Validate.
var (
	ErrNoName        = errors.New("patch has no name")
	ErrNoSource      = errors.New("patch has neither an HTTP URL nor a torrent descriptor")
	ErrNoDestination = errors.New("patch has no destination path")
	ErrBadLength     = errors.New("patch length must not be negative")
)

// Patch describes one game patch file to acquire.
//
// A Patch is produced by the upstream resolver and is treated as immutable
// once handed to the download manager. It carries:
//   - Name, the version token shown to the user (e.g. "D2023.04.28.0000.0001")
//   - Length, the expected size in bytes (0 if unknown)
//   - URL and/or Torrent, the sources it can be fetched from
//   - Hash, an optional "sha1:<hex>" or "sha256:<hex>" checksum
//   - Destination, the local file the bytes are written to
//
// Example:
//
//	p := NewPatch("D2023.04.28.0000.0001", 1<<20, "https://example.com/p.patch", "", "", &PathConfig{
//	    DownloadsPath: "/var/cache/patches",
//	})
//	// p.Destination = "/var/cache/patches/D2023.04.28.0000.0001.patch"
type Patch struct {
	// Name is the patch version token.
	Name string

	// Length is the expected total byte length. Zero means the length is
	// learned from the source.
	Length int64

	// URL is the HTTP(S) source. Empty if the patch is torrent-only.
	URL string

	// Torrent is a magnet URI or a path to a .torrent file.
	// Empty if the patch is HTTP-only.
	Torrent string

	// Hash is an optional checksum in "algorithm:hex" form.
	Hash string

	// Destination is the local file path the patch is written to.
	Destination string
}

// PathConfig holds destination formatting settings for patches.
//
// FileNameFormat supports the placeholder {name}. An empty format means
// "{name}.patch".
type PathConfig struct {
	// DownloadsPath is the directory patches are written to.
	DownloadsPath string

	// FileNameFormat is the template for patch file names.
	FileNameFormat string
}

// NewPatch creates a Patch with a computed destination path.
//
// Invalid filename characters in the name are replaced with underscores and
// the path is kept under the Windows MAX_PATH limit.
func NewPatch(name string, length int64, url, torrent, hash string, cfg *PathConfig) Patch {
	p := Patch{
		Name:    name,
		Length:  length,
		URL:     url,
		Torrent: torrent,
		Hash:    hash,
	}
	p.Destination = p.parseFilePath(cfg)
	return p
}

// HasURL reports whether the patch can be fetched over HTTP.
func (p Patch) HasURL() bool {
	return p.URL != ""
}

// HasTorrent reports whether the patch can be fetched from a swarm.
func (p Patch) HasTorrent() bool {
	return p.Torrent != ""
}

// Validate checks that the patch is usable by the download manager.
func (p Patch) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return ErrNoName
	case p.Length < 0:
		return fmt.Errorf("%s: %w", p.Name, ErrBadLength)
	case !p.HasURL() && !p.HasTorrent():
		return fmt.Errorf("%s: %w", p.Name, ErrNoSource)
	case p.Destination == "":
		return fmt.Errorf("%s: %w", p.Name, ErrNoDestination)
	}
	if p.Hash != "" {
		if _, err := ParseChecksum(p.Hash); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
	}
	return nil
}

// String returns the patch name.
func (p Patch) String() string {
	return p.Name
}

// parseFilePath computes the destination file path for this patch.
func (p Patch) parseFilePath(cfg *PathConfig) string {
	format := cfg.FileNameFormat
	if format == "" {
		format = "{name}.patch"
	}
	fileName := sanitizeFileName(strings.ReplaceAll(format, "{name}", p.Name))
	filePath := filepath.Join(cfg.DownloadsPath, fileName)

	// Limit total path length for Windows compatibility (MAX_PATH = 260)
	if len(filePath) >= 260 {
		ext := filepath.Ext(fileName)
		maxLen := 259 - len(cfg.DownloadsPath) - 1 - len(ext)
		base := strings.TrimSuffix(fileName, ext)
		if maxLen > 0 && maxLen < len(base) {
			filePath = filepath.Join(cfg.DownloadsPath, base[:maxLen]+ext)
		}
	}

	return filePath
}

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`\.+$`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// sanitizeFileName removes or replaces characters that are invalid in file names.
//
// Example:
//
//	sanitizeFileName("D2023:04/28") // Returns "D2023_04_28"
func sanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpace.ReplaceAllString(name, " ")
	return strings.TrimRight(name, " ")
}
