package domain

type MessageType string

const (
	MessageTypeSubscribe  MessageType = "subscribe"
	MessageTypeResponse   MessageType = "response"
	MessageTypeICE        MessageType = "ice"
	MessageTypeEvent      MessageType = "event"
	MessageTypeError      MessageType = "error"
	MessageTypeDisconnect MessageType = "disconnect"
	MessageTypeCommand    MessageType = "cmd"
)

// SignalingMessage is the closed set of control messages exchanged with the
// edge server.
type SignalingMessage interface {
	MessageType() MessageType
	signalingMessage()
}

// SubscribeRequest carries the SDP offer.
type SubscribeRequest struct {
	StreamName string
	AccountID  string
	SDP        string
	Events     []string
}

// SubscribeResponse carries the SDP answer.
type SubscribeResponse struct {
	SDP          string
	SubscriberID string
	ClusterID    string
}

type IceCandidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

type EventMessage struct {
	Event ServerEvent
}

type ErrorMessage struct {
	Reason string
}

type Disconnect struct {
	Reason string
}

// SelectLayer asks the server for a simulcast layer. A nil Layer restores
// automatic selection.
type SelectLayer struct {
	Layer *Layer
}

type ProjectionMapping struct {
	TrackID string `json:"trackId"`
	Media   string `json:"media"`
	Mid     string `json:"mediaId"`
}

// Project forwards a source's tracks onto existing transceivers.
type Project struct {
	SourceID string
	Mappings []ProjectionMapping
}

type Unproject struct {
	Mids []string
}

func (SubscribeRequest) MessageType() MessageType  { return MessageTypeSubscribe }
func (SubscribeResponse) MessageType() MessageType { return MessageTypeResponse }
func (IceCandidate) MessageType() MessageType      { return MessageTypeICE }
func (EventMessage) MessageType() MessageType      { return MessageTypeEvent }
func (ErrorMessage) MessageType() MessageType      { return MessageTypeError }
func (Disconnect) MessageType() MessageType        { return MessageTypeDisconnect }
func (SelectLayer) MessageType() MessageType       { return MessageTypeCommand }
func (Project) MessageType() MessageType           { return MessageTypeCommand }
func (Unproject) MessageType() MessageType         { return MessageTypeCommand }

func (SubscribeRequest) signalingMessage()  {}
func (SubscribeResponse) signalingMessage() {}
func (IceCandidate) signalingMessage()      {}
func (EventMessage) signalingMessage()      {}
func (ErrorMessage) signalingMessage()      {}
func (Disconnect) signalingMessage()        {}
func (SelectLayer) signalingMessage()       {}
func (Project) signalingMessage()           {}
func (Unproject) signalingMessage()         {}
