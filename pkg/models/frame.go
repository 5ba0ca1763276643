package models

// FrameEvent is the outer event family of a wire frame. Every run emits
// any number of message frames followed by exactly one close or error.
type FrameEvent string

const (
	FrameEventMessage FrameEvent = "message"
	FrameEventClose   FrameEvent = "close"
	FrameEventError   FrameEvent = "error"
)

// FrameMessageType tells the subscriber how to render the frame payload.
type FrameMessageType string

const (
	FrameMessage  FrameMessageType = "message"
	FrameAction   FrameMessageType = "action"
	FrameImage    FrameMessageType = "image"
	FrameToolCall FrameMessageType = "tool_call"
	FrameClose    FrameMessageType = "close"
	FrameError    FrameMessageType = "error"
)

// GenericErrorText is the user-facing payload for failed runs. The
// technical message travels separately in ErrorDetail.
const GenericErrorText = "Something went wrong, please try again later."

// Frame is the wire-level event sent to subscribers. Envelope keys are
// camelCased at the boundary; the message payload keeps the domain
// encoding shared with persistence. Message is null on close and error
// frames. Patch=true instructs the receiver to merge the payload by
// message id into an existing message rather than append.
type Frame struct {
	RunID       string           `json:"runId"`
	ThreadID    string           `json:"threadId"`
	ChannelID   string           `json:"channelId"`
	Event       FrameEvent       `json:"event"`
	MessageType FrameMessageType `json:"messageType"`
	Streaming   bool             `json:"streaming"`
	Patch       bool             `json:"patch"`
	Message     *Message         `json:"message"`
	ErrorDetail string           `json:"errorDetail,omitempty"`
}

// Terminal reports whether this frame closes its run's stream.
func (f *Frame) Terminal() bool {
	return f.Event == FrameEventClose || f.Event == FrameEventError
}
