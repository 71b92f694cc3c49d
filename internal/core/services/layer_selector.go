package services

import (
	"sort"
	"sync"

	"rillview/internal/core/domain"
)

// LayerSelector picks the simulcast layer to request when the server
// announces available layers. An explicit host selection pins the layer
// until it is cleared.
type LayerSelector struct {
	hint       domain.LayerHint
	ceilingBps int

	mu      sync.Mutex
	pinned  *domain.Layer
	current *domain.Layer
}

func NewLayerSelector(hint domain.LayerHint, ceilingKbps int) *LayerSelector {
	return &LayerSelector{hint: hint, ceilingBps: ceilingKbps * 1000}
}

// Pin fixes the layer. A nil layer returns to automatic selection.
func (s *LayerSelector) Pin(layer *domain.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layer == nil {
		s.pinned = nil
		s.current = nil
		return
	}
	l := *layer
	s.pinned = &l
	s.current = &l
}

// Current returns the last requested layer, or nil when the server chooses.
func (s *LayerSelector) Current() *domain.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	l := *s.current
	return &l
}

// Reset forgets the last request. The pin survives reconnects.
func (s *LayerSelector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned == nil {
		s.current = nil
	}
}

// Choose returns the layer to request for ev, or false when no select
// command is needed.
func (s *LayerSelector) Choose(ev domain.LayersChanged) (domain.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinned != nil || (s.hint == (domain.LayerHint{}) && s.ceilingBps <= 0) {
		return domain.Layer{}, false
	}

	var active []domain.Layer
	for _, media := range ev.Medias {
		active = append(active, media.Active...)
	}
	if len(active) == 0 {
		return domain.Layer{}, false
	}

	chosen := s.pick(active)
	if s.current != nil && s.current.SameAs(chosen) {
		return domain.Layer{}, false
	}
	s.current = &chosen
	return chosen, true
}

// pick prefers the hinted encoding. Otherwise it takes the highest layer
// within the bandwidth ceiling and height limit, or the lowest layer when
// none fits.
func (s *LayerSelector) pick(layers []domain.Layer) domain.Layer {
	sorted := append([]domain.Layer(nil), layers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BitrateBps != sorted[j].BitrateBps {
			return sorted[i].BitrateBps > sorted[j].BitrateBps
		}
		if sorted[i].Height != sorted[j].Height {
			return sorted[i].Height > sorted[j].Height
		}
		if sorted[i].SpatialLayerID != sorted[j].SpatialLayerID {
			return sorted[i].SpatialLayerID > sorted[j].SpatialLayerID
		}
		return sorted[i].TemporalLayerID > sorted[j].TemporalLayerID
	})

	if s.hint.EncodingID != "" {
		for _, l := range sorted {
			if l.EncodingID == s.hint.EncodingID {
				return l
			}
		}
	}

	for _, l := range sorted {
		if s.fits(l) {
			return l
		}
	}
	return sorted[len(sorted)-1]
}

func (s *LayerSelector) fits(l domain.Layer) bool {
	if s.ceilingBps > 0 && l.BitrateBps > s.ceilingBps {
		return false
	}
	if s.hint.MaxHeight > 0 && l.Height > s.hint.MaxHeight {
		return false
	}
	return true
}
