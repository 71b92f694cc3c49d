package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"rillview/internal/core/domain"
)

// Dialect selects how the subscribe request is framed.
type Dialect string

const (
	DialectSubscribe Dialect = "subscribe"
	DialectView      Dialect = "view"
)

// ErrCommandAck marks a response to a command rather than to the subscribe
// request. Such frames carry nothing the session needs.
var ErrCommandAck = errors.New("command acknowledgement")

type wireMessage struct {
	Type          string          `json:"type"`
	TransID       int64           `json:"transId,omitempty"`
	Name          string          `json:"name,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	SDP           string          `json:"sdp,omitempty"`
	StreamName    string          `json:"streamName,omitempty"`
	AccountID     string          `json:"accountId,omitempty"`
	Events        []string        `json:"events,omitempty"`
	Candidate     *string         `json:"candidate,omitempty"`
	SDPMid        *string         `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16         `json:"sdpMLineIndex,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

type viewData struct {
	StreamID string   `json:"streamId"`
	SDP      string   `json:"sdp"`
	Events   []string `json:"events,omitempty"`
}

type responseData struct {
	SDP          string `json:"sdp"`
	SubscriberID string `json:"subscriberId"`
	ClusterID    string `json:"clusterId"`
}

type wireLayer struct {
	EncodingID      string `json:"encodingId,omitempty"`
	SpatialLayerID  *int   `json:"spatialLayerId,omitempty"`
	TemporalLayerID *int   `json:"temporalLayerId,omitempty"`
	Bitrate         int    `json:"bitrate,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

type wireEncoding struct {
	ID      string      `json:"id"`
	Bitrate int         `json:"bitrate"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Layers  []wireLayer `json:"layers"`
}

type wireMedia struct {
	Active   []wireEncoding `json:"active"`
	Inactive []wireEncoding `json:"inactive"`
	Layers   []wireLayer    `json:"layers"`
}

// Codec translates between domain messages and JSON frames. Transaction ids
// are allocated per codec, so one codec serves one connection.
type Codec struct {
	dialect        Dialect
	transID        atomic.Int64
	subscribeTrans atomic.Int64
}

func NewCodec(dialect Dialect) *Codec {
	if dialect == "" {
		dialect = DialectSubscribe
	}
	return &Codec{dialect: dialect}
}

// Encode frames an outbound message.
func (c *Codec) Encode(msg domain.SignalingMessage) ([]byte, error) {
	var w wireMessage

	switch m := msg.(type) {
	case domain.SubscribeRequest:
		id := c.transID.Add(1)
		c.subscribeTrans.Store(id)
		w.TransID = id
		if c.dialect == DialectView {
			data, err := json.Marshal(viewData{StreamID: m.StreamName, SDP: m.SDP, Events: m.Events})
			if err != nil {
				return nil, err
			}
			w.Type = string(domain.MessageTypeCommand)
			w.Name = "view"
			w.Data = data
		} else {
			w.Type = string(domain.MessageTypeSubscribe)
			w.StreamName = m.StreamName
			w.AccountID = m.AccountID
			w.SDP = m.SDP
			w.Events = m.Events
		}

	case domain.IceCandidate:
		candidate := m.Candidate
		w.Type = string(domain.MessageTypeICE)
		w.Candidate = &candidate
		w.SDPMid = m.SDPMid
		w.SDPMLineIndex = m.SDPMLineIndex

	case domain.SelectLayer:
		layer := wireLayer{}
		if m.Layer != nil {
			layer.EncodingID = m.Layer.EncodingID
			if m.Layer.SpatialLayerID >= 0 {
				layer.SpatialLayerID = &m.Layer.SpatialLayerID
			}
			if m.Layer.TemporalLayerID >= 0 {
				layer.TemporalLayerID = &m.Layer.TemporalLayerID
			}
		}
		return c.command("select", map[string]interface{}{"layer": layer})

	case domain.Project:
		return c.command("project", map[string]interface{}{
			"sourceId": m.SourceID,
			"mapping":  m.Mappings,
		})

	case domain.Unproject:
		return c.command("unproject", map[string]interface{}{"mediaIds": m.Mids})

	case domain.Disconnect:
		w.Type = string(domain.MessageTypeDisconnect)
		w.Reason = m.Reason

	default:
		return nil, fmt.Errorf("cannot encode %T", msg)
	}

	return json.Marshal(w)
}

func (c *Codec) command(name string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		Type:    string(domain.MessageTypeCommand),
		TransID: c.transID.Add(1),
		Name:    name,
		Data:    raw,
	})
}

// Decode parses one inbound frame. Errors mean the frame is to be dropped.
func (c *Codec) Decode(raw []byte) (domain.SignalingMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch domain.MessageType(w.Type) {
	case domain.MessageTypeResponse:
		resp := domain.SubscribeResponse{SDP: w.SDP}
		if len(w.Data) > 0 {
			var data responseData
			if err := json.Unmarshal(w.Data, &data); err == nil {
				if resp.SDP == "" {
					resp.SDP = data.SDP
				}
				resp.SubscriberID = data.SubscriberID
				resp.ClusterID = data.ClusterID
			}
		}
		if resp.SDP == "" && w.TransID != 0 && w.TransID != c.subscribeTrans.Load() {
			return nil, ErrCommandAck
		}
		return resp, nil

	case domain.MessageTypeEvent:
		ev, err := decodeEvent(domain.EventName(w.Name), w.Data)
		if err != nil {
			return nil, err
		}
		return domain.EventMessage{Event: ev}, nil

	case domain.MessageTypeError:
		return domain.ErrorMessage{Reason: errorReason(w)}, nil

	case domain.MessageTypeICE:
		ice := domain.IceCandidate{SDPMid: w.SDPMid, SDPMLineIndex: w.SDPMLineIndex}
		if w.Candidate != nil {
			ice.Candidate = *w.Candidate
		}
		return ice, nil

	case domain.MessageTypeDisconnect:
		return domain.Disconnect{Reason: w.Reason}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessage, w.Type)
}

func errorReason(w wireMessage) string {
	if w.Reason != "" {
		return w.Reason
	}
	if len(w.Data) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(w.Data, &s); err == nil && s != "" {
		return s
	}
	var obj struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Data, &obj); err == nil {
		if obj.Reason != "" {
			return obj.Reason
		}
		if obj.Message != "" {
			return obj.Message
		}
	}
	return string(w.Data)
}

func decodeEvent(name domain.EventName, data json.RawMessage) (domain.ServerEvent, error) {
	switch name {
	case domain.EventActive:
		var d struct {
			StreamID string             `json:"streamId"`
			SourceID string             `json:"sourceId"`
			Tracks   []domain.TrackInfo `json:"tracks"`
		}
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return domain.StreamActive{StreamID: d.StreamID, SourceID: d.SourceID, Tracks: d.Tracks}, nil

	case domain.EventInactive:
		var d struct {
			StreamID string `json:"streamId"`
			SourceID string `json:"sourceId"`
		}
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return domain.StreamInactive{StreamID: d.StreamID, SourceID: d.SourceID}, nil

	case domain.EventStopped:
		return domain.StreamStopped{}, nil

	case domain.EventVad:
		var d struct {
			MediaID  string `json:"mediaId"`
			SourceID string `json:"sourceId"`
		}
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return domain.VoiceActivity{MediaID: d.MediaID, SourceID: d.SourceID}, nil

	case domain.EventLayers:
		var d struct {
			Medias map[string]wireMedia `json:"medias"`
		}
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		ev := domain.LayersChanged{Medias: make(map[string]domain.MediaLayers, len(d.Medias))}
		for mid, m := range d.Medias {
			ev.Medias[mid] = convertMedia(m)
		}
		return ev, nil

	case domain.EventViewerCount:
		var d struct {
			ViewerCount int `json:"viewercount"`
		}
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return domain.ViewerCount{Count: d.ViewerCount}, nil

	case domain.EventMigrate:
		return domain.Migrate{}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, name)
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed event data: %w", err)
	}
	return nil
}

// convertMedia prefers the flat "layers" list and falls back to the encoding
// entries, which carry no spatial or temporal ids.
func convertMedia(m wireMedia) domain.MediaLayers {
	var out domain.MediaLayers

	flat := m.Layers
	for _, enc := range m.Active {
		flat = append(flat, enc.Layers...)
	}
	for _, l := range flat {
		out.Active = append(out.Active, convertLayer(l))
	}
	if len(out.Active) == 0 {
		for _, enc := range m.Active {
			out.Active = append(out.Active, encodingLayer(enc))
		}
	}
	for _, enc := range m.Inactive {
		out.Inactive = append(out.Inactive, encodingLayer(enc))
	}
	return out
}

func convertLayer(l wireLayer) domain.Layer {
	layer := domain.Layer{
		EncodingID:      l.EncodingID,
		SpatialLayerID:  -1,
		TemporalLayerID: -1,
		BitrateBps:      l.Bitrate,
		Width:           l.Width,
		Height:          l.Height,
	}
	if l.SpatialLayerID != nil {
		layer.SpatialLayerID = *l.SpatialLayerID
	}
	if l.TemporalLayerID != nil {
		layer.TemporalLayerID = *l.TemporalLayerID
	}
	return layer
}

func encodingLayer(enc wireEncoding) domain.Layer {
	return domain.Layer{
		EncodingID:      enc.ID,
		SpatialLayerID:  -1,
		TemporalLayerID: -1,
		BitrateBps:      enc.Bitrate,
		Width:           enc.Width,
		Height:          enc.Height,
	}
}
