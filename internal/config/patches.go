package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/handiism/patch-downloader/internal/model"
)

// PatchEntry is one patch in a patch list file.
type PatchEntry struct {
	Name        string `yaml:"name"`
	Length      int64  `yaml:"length"`
	URL         string `yaml:"url,omitempty"`
	Torrent     string `yaml:"torrent,omitempty"`
	Hash        string `yaml:"hash,omitempty"`
	Destination string `yaml:"destination,omitempty"`
}

// PatchList is the file format produced by the patch resolver:
//
//	patches:
//	  - name: D2023.04.28.0000.0001
//	    length: 52428800
//	    url: https://patches.example.com/D2023.04.28.0000.0001.patch
//	    hash: sha1:0a4d55a8d778e5022fab701977c5d840bbc486d0
//	  - name: D2023.05.10.0000.0000
//	    length: 1048576
//	    torrent: D2023.05.10.0000.0000.torrent
type PatchList struct {
	Patches []PatchEntry `yaml:"patches"`
}

// LoadPatchList reads an ordered patch list. Entries without a destination
// are placed under the settings' downloads path; relative .torrent paths are
// resolved against the list's directory.
func LoadPatchList(path string, s *Settings) ([]model.Patch, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list PatchList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	base := filepath.Dir(path)
	pathCfg := s.ToPathConfig()
	patches := make([]model.Patch, 0, len(list.Patches))
	for i, e := range list.Patches {
		torrent := e.Torrent
		if torrent != "" && !strings.HasPrefix(torrent, "magnet:") && !filepath.IsAbs(torrent) {
			torrent = filepath.Join(base, torrent)
		}

		p := model.NewPatch(e.Name, e.Length, e.URL, torrent, e.Hash, pathCfg)
		if e.Destination != "" {
			dest, err := homedir.Expand(e.Destination)
			if err != nil {
				return nil, err
			}
			p.Destination = dest
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		patches = append(patches, p)
	}
	return patches, nil
}
