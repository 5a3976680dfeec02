package types

import "time"

// Role represents the role of a message participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageInput is one base64-encoded image payload with its mime type.
// It is the decoded form of a data URI; the Data field never carries the
// "data:...;base64," prefix.
type ImageInput struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64 encoded
}

// EstimatedBytes returns the approximate decoded size of the payload.
// Base64 expands binary data by 4/3, so the inverse estimate is len*3/4.
func (in ImageInput) EstimatedBytes() int {
	return len(in.Data) * 3 / 4
}

// Message represents one prior conversation entry. Images marked Selected
// are carried into the next batch as generation context.
type Message struct {
	Role      Role         `json:"role"`
	Text      string       `json:"text,omitempty"`
	Images    []ImageInput `json:"images,omitempty"`
	Selected  bool         `json:"selected,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
}

// NewUserMessage creates a user message with the given text.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now()}
}
