package signal

import (
	"encoding/json"
	"testing"

	"rillview/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestCodec_EncodeSubscribe(t *testing.T) {
	t.Run("subscribe dialect", func(t *testing.T) {
		c := NewCodec(DialectSubscribe)
		data, err := c.Encode(domain.SubscribeRequest{
			StreamName: "demo",
			AccountID:  "acct",
			SDP:        "v=0",
			Events:     []string{"active", "layers"},
		})
		require.NoError(t, err)

		m := decodeJSON(t, data)
		assert.Equal(t, "subscribe", m["type"])
		assert.Equal(t, "demo", m["streamName"])
		assert.Equal(t, "acct", m["accountId"])
		assert.Equal(t, "v=0", m["sdp"])
		assert.EqualValues(t, 1, m["transId"])
	})

	t.Run("view dialect", func(t *testing.T) {
		c := NewCodec(DialectView)
		data, err := c.Encode(domain.SubscribeRequest{StreamName: "demo", SDP: "v=0", Events: []string{"active"}})
		require.NoError(t, err)

		m := decodeJSON(t, data)
		assert.Equal(t, "cmd", m["type"])
		assert.Equal(t, "view", m["name"])
		payload := m["data"].(map[string]interface{})
		assert.Equal(t, "demo", payload["streamId"])
		assert.Equal(t, "v=0", payload["sdp"])
	})
}

func TestCodec_EncodeIce(t *testing.T) {
	c := NewCodec(DialectSubscribe)
	mid := "0"
	idx := uint16(0)
	data, err := c.Encode(domain.IceCandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx})
	require.NoError(t, err)

	m := decodeJSON(t, data)
	assert.Equal(t, "ice", m["type"])
	assert.Equal(t, "0", m["sdpMid"])
	assert.EqualValues(t, 0, m["sdpMLineIndex"])
}

func TestCodec_EncodeCommands(t *testing.T) {
	c := NewCodec(DialectSubscribe)

	data, err := c.Encode(domain.SelectLayer{Layer: &domain.Layer{EncodingID: "h", SpatialLayerID: -1, TemporalLayerID: 1}})
	require.NoError(t, err)
	m := decodeJSON(t, data)
	assert.Equal(t, "cmd", m["type"])
	assert.Equal(t, "select", m["name"])
	layer := m["data"].(map[string]interface{})["layer"].(map[string]interface{})
	assert.Equal(t, "h", layer["encodingId"])
	assert.NotContains(t, layer, "spatialLayerId")
	assert.EqualValues(t, 1, layer["temporalLayerId"])

	data, err = c.Encode(domain.SelectLayer{})
	require.NoError(t, err)
	m = decodeJSON(t, data)
	assert.Empty(t, m["data"].(map[string]interface{})["layer"])

	data, err = c.Encode(domain.Project{SourceID: "cam2", Mappings: []domain.ProjectionMapping{{TrackID: "video", Media: "video", Mid: "1"}}})
	require.NoError(t, err)
	m = decodeJSON(t, data)
	assert.Equal(t, "project", m["name"])
	assert.Equal(t, "cam2", m["data"].(map[string]interface{})["sourceId"])

	data, err = c.Encode(domain.Unproject{Mids: []string{"1"}})
	require.NoError(t, err)
	m = decodeJSON(t, data)
	assert.Equal(t, "unproject", m["name"])
}

func TestCodec_EncodeRejectsInboundOnly(t *testing.T) {
	c := NewCodec(DialectSubscribe)
	_, err := c.Encode(domain.SubscribeResponse{SDP: "v=0"})
	assert.Error(t, err)
}

func TestCodec_DecodeResponse(t *testing.T) {
	c := NewCodec(DialectView)
	_, err := c.Encode(domain.SubscribeRequest{StreamName: "demo", SDP: "v=0"})
	require.NoError(t, err)

	msg, err := c.Decode([]byte(`{"type":"response","transId":1,"data":{"sdp":"v=0 answer","subscriberId":"sub1","clusterId":"c1"}}`))
	require.NoError(t, err)
	resp, ok := msg.(domain.SubscribeResponse)
	require.True(t, ok)
	assert.Equal(t, "v=0 answer", resp.SDP)
	assert.Equal(t, "sub1", resp.SubscriberID)
	assert.Equal(t, "c1", resp.ClusterID)

	msg, err = c.Decode([]byte(`{"type":"response","sdp":"top level"}`))
	require.NoError(t, err)
	assert.Equal(t, "top level", msg.(domain.SubscribeResponse).SDP)

	// acknowledgement of a later command
	_, err = c.Decode([]byte(`{"type":"response","transId":7,"data":{}}`))
	assert.ErrorIs(t, err, ErrCommandAck)
}

func TestCodec_DecodeError(t *testing.T) {
	c := NewCodec(DialectSubscribe)
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"reason", `{"type":"error","reason":"NOT_FOUND"}`, "NOT_FOUND"},
		{"string data", `{"type":"error","data":"stream not being published"}`, "stream not being published"},
		{"object data", `{"type":"error","data":{"message":"Unauthorized"}}`, "Unauthorized"},
		{"empty", `{"type":"error"}`, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.(domain.ErrorMessage).Reason)
		})
	}
}

func TestCodec_DecodeIce(t *testing.T) {
	c := NewCodec(DialectSubscribe)
	msg, err := c.Decode([]byte(`{"type":"ice","candidate":"candidate:2 1 udp 2 1.2.3.4 9 typ srflx","sdpMid":"1","sdpMLineIndex":1}`))
	require.NoError(t, err)
	ice := msg.(domain.IceCandidate)
	assert.Equal(t, "candidate:2 1 udp 2 1.2.3.4 9 typ srflx", ice.Candidate)
	require.NotNil(t, ice.SDPMid)
	assert.Equal(t, "1", *ice.SDPMid)
	require.NotNil(t, ice.SDPMLineIndex)
	assert.EqualValues(t, 1, *ice.SDPMLineIndex)
}

func TestCodec_DecodeEvents(t *testing.T) {
	c := NewCodec(DialectSubscribe)

	tests := []struct {
		name   string
		frame  string
		assert func(t *testing.T, ev domain.ServerEvent)
	}{
		{
			name:  "active",
			frame: `{"type":"event","name":"active","data":{"streamId":"acct/demo","sourceId":"cam1","tracks":[{"trackId":"video","media":"video"}]}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				a := ev.(domain.StreamActive)
				assert.Equal(t, "cam1", a.SourceID)
				assert.Len(t, a.Tracks, 1)
			},
		},
		{
			name:  "inactive",
			frame: `{"type":"event","name":"inactive","data":{"streamId":"acct/demo"}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				assert.Equal(t, "acct/demo", ev.(domain.StreamInactive).StreamID)
			},
		},
		{
			name:  "stopped",
			frame: `{"type":"event","name":"stopped"}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				assert.IsType(t, domain.StreamStopped{}, ev)
			},
		},
		{
			name:  "vad",
			frame: `{"type":"event","name":"vad","data":{"mediaId":"0","sourceId":"mic"}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				assert.Equal(t, "0", ev.(domain.VoiceActivity).MediaID)
			},
		},
		{
			name:  "viewercount",
			frame: `{"type":"event","name":"viewercount","data":{"viewercount":42}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				assert.Equal(t, 42, ev.(domain.ViewerCount).Count)
			},
		},
		{
			name:  "migrate",
			frame: `{"type":"event","name":"migrate","data":{}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				assert.IsType(t, domain.Migrate{}, ev)
			},
		},
		{
			name: "layers with flat list",
			frame: `{"type":"event","name":"layers","data":{"medias":{"1":{
				"layers":[{"encodingId":"h","spatialLayerId":0,"temporalLayerId":2,"bitrate":2500000,"width":1280,"height":720}],
				"inactive":[{"id":"l"}]}}}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				m := ev.(domain.LayersChanged).Medias["1"]
				require.Len(t, m.Active, 1)
				assert.Equal(t, "h", m.Active[0].EncodingID)
				assert.Equal(t, 2, m.Active[0].TemporalLayerID)
				assert.Equal(t, 720, m.Active[0].Height)
				require.Len(t, m.Inactive, 1)
				assert.Equal(t, "l", m.Inactive[0].EncodingID)
			},
		},
		{
			name:  "layers with encodings only",
			frame: `{"type":"event","name":"layers","data":{"medias":{"1":{"active":[{"id":"m","bitrate":800000,"width":640,"height":360}]}}}}`,
			assert: func(t *testing.T, ev domain.ServerEvent) {
				m := ev.(domain.LayersChanged).Medias["1"]
				require.Len(t, m.Active, 1)
				assert.Equal(t, "m", m.Active[0].EncodingID)
				assert.Equal(t, -1, m.Active[0].SpatialLayerID)
				assert.Equal(t, 800000, m.Active[0].BitrateBps)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode([]byte(tt.frame))
			require.NoError(t, err)
			tt.assert(t, msg.(domain.EventMessage).Event)
		})
	}
}

func TestCodec_DecodeMalformed(t *testing.T) {
	c := NewCodec(DialectSubscribe)

	_, err := c.Decode([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = c.Decode([]byte(`{"type":"telemetry"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownMessage)

	_, err = c.Decode([]byte(`{"type":"event","name":"fireworks"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	_, err = c.Decode([]byte(`{"type":"event","name":"viewercount","data":"lots"}`))
	assert.Error(t, err)
}
