package domain

type EventName string

const (
	EventActive      EventName = "active"
	EventInactive    EventName = "inactive"
	EventStopped     EventName = "stopped"
	EventVad         EventName = "vad"
	EventLayers      EventName = "layers"
	EventViewerCount EventName = "viewercount"
	EventMigrate     EventName = "migrate"
)

// AllEvents lists every event the client knows how to handle.
var AllEvents = []EventName{
	EventActive, EventInactive, EventStopped, EventVad, EventLayers, EventViewerCount, EventMigrate,
}

// ServerEvent is a push notification from the edge server. The set of
// implementations is closed; handlers switch on the concrete type.
type ServerEvent interface {
	Name() EventName
	serverEvent()
}

type TrackInfo struct {
	TrackID string `json:"trackId"`
	Media   string `json:"media"`
}

// StreamActive announces a publisher source going live.
type StreamActive struct {
	StreamID string
	SourceID string
	Tracks   []TrackInfo
}

type StreamInactive struct {
	StreamID string
	SourceID string
}

type StreamStopped struct{}

// VoiceActivity reports which media currently carries speech.
type VoiceActivity struct {
	MediaID  string
	SourceID string
}

type MediaLayers struct {
	Active   []Layer
	Inactive []Layer
}

// LayersChanged maps a transceiver mid to its available layers.
type LayersChanged struct {
	Medias map[string]MediaLayers
}

type ViewerCount struct {
	Count int
}

// Migrate asks the client to reconnect, usually to another cluster.
type Migrate struct{}

func (StreamActive) Name() EventName   { return EventActive }
func (StreamInactive) Name() EventName { return EventInactive }
func (StreamStopped) Name() EventName  { return EventStopped }
func (VoiceActivity) Name() EventName  { return EventVad }
func (LayersChanged) Name() EventName  { return EventLayers }
func (ViewerCount) Name() EventName    { return EventViewerCount }
func (Migrate) Name() EventName        { return EventMigrate }

func (StreamActive) serverEvent()   {}
func (StreamInactive) serverEvent() {}
func (StreamStopped) serverEvent()  {}
func (VoiceActivity) serverEvent()  {}
func (LayersChanged) serverEvent()  {}
func (ViewerCount) serverEvent()    {}
func (Migrate) serverEvent()        {}
