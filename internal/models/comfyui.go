package models

import "encoding/json"

// PromptRequest is the body of POST /prompt on the remote server.
type PromptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id,omitempty"`
}

// PromptResponse is returned by POST /prompt.
type PromptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

// QueueState is returned by GET /queue. Entries are passed through opaque.
type QueueState struct {
	QueueRunning []json.RawMessage `json:"queue_running"`
	QueuePending []json.RawMessage `json:"queue_pending"`
}

// PromptHistory is one entry of GET /history.
type PromptHistory struct {
	Prompt  json.RawMessage       `json:"prompt"`
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  PromptStatus          `json:"status"`
}

type PromptStatus struct {
	StatusStr *string           `json:"status_str"`
	Completed *bool             `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

type NodeOutput struct {
	Images []ImageResult `json:"images"`
}

// SystemStats is returned by GET /system_stats.
type SystemStats struct {
	System  SystemInfo   `json:"system"`
	Devices []DeviceInfo `json:"devices"`
}

type SystemInfo struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
}

type DeviceInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      uint64 `json:"vram_total"`
	VRAMFree       uint64 `json:"vram_free"`
	TorchVRAMTotal uint64 `json:"torch_vram_total"`
	TorchVRAMFree  uint64 `json:"torch_vram_free"`
}

// ModelCatalog lists the model files the remote server can load, in the
// order it reports them.
type ModelCatalog struct {
	Diffusion   []string // UNETLoader unet_name choices
	TextEncoder []string // DualCLIPLoader clip_name1 choices
}
