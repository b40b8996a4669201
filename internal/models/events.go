package models

import "encoding/json"

// Downstream event type tags, as seen by browser clients.
const (
	EventConnected   = "connected"
	EventQueued      = "queued"
	EventStarted     = "started"
	EventProgress    = "progress"
	EventPreview     = "preview"
	EventCompleted   = "completed"
	EventError       = "error"
	EventQueueStatus = "queue_status"
)

// Event is a message sent to browser clients over the websocket. Its JSON
// form is a flat object carrying a "type" discriminant.
type Event interface {
	EventType() string
}

// Encode serializes an event with its type tag.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// ImageResult identifies an image stored on the remote server.
type ImageResult struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type Connected struct {
	ClientID string `json:"client_id"`
}

// Queued is part of the client vocabulary; the relay itself never emits it.
type Queued struct {
	PromptID      string `json:"prompt_id"`
	QueuePosition uint32 `json:"queue_position"`
}

type Started struct {
	PromptID string `json:"prompt_id"`
}

type Progress struct {
	PromptID   string  `json:"prompt_id"`
	Node       string  `json:"node"`
	Value      uint32  `json:"value"`
	Max        uint32  `json:"max"`
	Percentage float32 `json:"percentage"`
}

type Preview struct {
	PromptID  string `json:"prompt_id"`
	ImageData string `json:"image_data"`
}

type Completed struct {
	PromptID string        `json:"prompt_id"`
	Images   []ImageResult `json:"images"`
}

// ExecutionError reports a failure inside the remote server's execution.
type ExecutionError struct {
	PromptID *string `json:"prompt_id"`
	Message  string  `json:"message"`
}

type QueueStatus struct {
	Running uint32 `json:"running"`
	Pending uint32 `json:"pending"`
}

func (Connected) EventType() string      { return EventConnected }
func (Queued) EventType() string         { return EventQueued }
func (Started) EventType() string        { return EventStarted }
func (Progress) EventType() string       { return EventProgress }
func (Preview) EventType() string        { return EventPreview }
func (Completed) EventType() string      { return EventCompleted }
func (ExecutionError) EventType() string { return EventError }
func (QueueStatus) EventType() string    { return EventQueueStatus }

func (e Connected) MarshalJSON() ([]byte, error) {
	type body Connected
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventConnected, body(e)})
}

func (e Queued) MarshalJSON() ([]byte, error) {
	type body Queued
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventQueued, body(e)})
}

func (e Started) MarshalJSON() ([]byte, error) {
	type body Started
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventStarted, body(e)})
}

func (e Progress) MarshalJSON() ([]byte, error) {
	type body Progress
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventProgress, body(e)})
}

func (e Preview) MarshalJSON() ([]byte, error) {
	type body Preview
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventPreview, body(e)})
}

func (e Completed) MarshalJSON() ([]byte, error) {
	type body Completed
	if e.Images == nil {
		e.Images = []ImageResult{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventCompleted, body(e)})
}

func (e ExecutionError) MarshalJSON() ([]byte, error) {
	type body ExecutionError
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventError, body(e)})
}

func (e QueueStatus) MarshalJSON() ([]byte, error) {
	type body QueueStatus
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{EventQueueStatus, body(e)})
}
