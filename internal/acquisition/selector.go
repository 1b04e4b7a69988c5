package acquisition

import "github.com/handiism/patch-downloader/internal/model"

// Selector picks the strategy for a patch. It returns nil when no configured
// strategy can fetch the patch.
type Selector interface {
	Select(p model.Patch) Strategy
}

// SelectorFunc adapts a function to a Selector.
type SelectorFunc func(p model.Patch) Strategy

func (f SelectorFunc) Select(p model.Patch) Strategy { return f(p) }

// TransportSelector chooses between an HTTP and a torrent strategy.
// Either strategy may be nil.
type TransportSelector struct {
	HTTP    Strategy
	Torrent Strategy

	// PreferTorrent selects the torrent strategy for patches that have both
	// sources.
	PreferTorrent bool
}

// Select returns the torrent strategy for patches with a torrent descriptor
// when torrents are preferred or no URL is available, and the HTTP strategy
// otherwise.
func (s *TransportSelector) Select(p model.Patch) Strategy {
	if p.HasTorrent() && s.Torrent != nil && (s.PreferTorrent || !p.HasURL() || s.HTTP == nil) {
		return s.Torrent
	}
	if p.HasURL() && s.HTTP != nil {
		return s.HTTP
	}
	return nil
}
