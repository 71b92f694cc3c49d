package domain

import "fmt"

// Layer identifies one simulcast encoding or SVC layer. Missing spatial or
// temporal ids are -1.
type Layer struct {
	EncodingID      string `json:"encodingId"`
	SpatialLayerID  int    `json:"spatialLayerId"`
	TemporalLayerID int    `json:"temporalLayerId"`
	BitrateBps      int    `json:"bitrate,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

func (l Layer) String() string {
	return fmt.Sprintf("%s/%d/%d", l.EncodingID, l.SpatialLayerID, l.TemporalLayerID)
}

// SameAs compares layer identity, ignoring bitrate and resolution.
func (l Layer) SameAs(other Layer) bool {
	return l.EncodingID == other.EncodingID &&
		l.SpatialLayerID == other.SpatialLayerID &&
		l.TemporalLayerID == other.TemporalLayerID
}
