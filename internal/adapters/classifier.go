package adapters

import (
	"encoding/base64"
	"strconv"

	"github.com/tidwall/gjson"

	"comfy-relay/server/internal/interfaces"
	"comfy-relay/server/internal/models"
)

// Upstream text frame types the relay understands.
const (
	frameStatus         = "status"
	frameExecutionStart = "execution_start"
	frameProgress       = "progress"
	frameExecuted       = "executed"
	frameExecutionError = "execution_error"
)

const (
	previewHeaderLength = 8
	previewDataPrefix   = "data:image/jpeg;base64,"

	// placeholder id for previews that arrive before any execution_start
	currentPromptPlaceholder = "current"

	unknownErrorMessage = "Unknown error"
)

// Classification is the outcome of classifying one upstream frame.
type Classification struct {
	// Type is the upstream type tag of a text frame, empty for binary frames
	// and undecodable text.
	Type string

	// Event is nil when the frame produces nothing for browser clients.
	Event models.Event

	// PromptStarted is set for execution_start frames. PromptID then holds
	// the new current prompt id, empty when the frame carried none.
	PromptStarted bool
	PromptID      string
}

// Classify maps one upstream frame to at most one downstream event.
// currentPromptID is the id from the most recent execution_start on this
// connection and is only used to label binary previews. Classify never
// fails: frames it cannot interpret yield a Classification with a nil Event.
//
// Keys are matched exactly, so a frame spelling "Type" or "FileName" is
// treated as missing those fields.
func Classify(frame interfaces.Frame, currentPromptID string) Classification {
	if frame.Kind == interfaces.BinaryFrame {
		return Classification{Event: classifyPreview(frame.Data, currentPromptID)}
	}

	if !gjson.ValidBytes(frame.Data) {
		return Classification{}
	}
	root := gjson.ParseBytes(frame.Data)
	frameType, ok := stringField(root, "type")
	if !ok {
		return Classification{}
	}

	c := Classification{Type: frameType}
	data := root.Get("data")
	if c.Type == frameExecutionStart {
		c.PromptStarted = true
		c.PromptID, _ = stringField(data, "prompt_id")
	}
	if !data.IsObject() {
		return c
	}

	switch c.Type {
	case frameStatus:
		c.Event = classifyStatus(data)
	case frameExecutionStart:
		if _, ok := stringField(data, "prompt_id"); ok {
			c.Event = models.Started{PromptID: c.PromptID}
		}
	case frameProgress:
		c.Event = classifyProgress(data)
	case frameExecuted:
		c.Event = classifyExecuted(data)
	case frameExecutionError:
		c.Event = classifyExecutionError(data)
	}
	return c
}

func stringField(obj gjson.Result, key string) (string, bool) {
	v := obj.Get(key)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// uintField accepts only non-negative integer literals.
func uintField(obj gjson.Result, path string) (uint64, bool) {
	v := obj.Get(path)
	if v.Type != gjson.Number {
		return 0, false
	}
	n, err := strconv.ParseUint(v.Raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func classifyPreview(data []byte, currentPromptID string) models.Event {
	if len(data) <= previewHeaderLength {
		return nil
	}
	promptID := currentPromptID
	if promptID == "" {
		promptID = currentPromptPlaceholder
	}
	return models.Preview{
		PromptID:  promptID,
		ImageData: previewDataPrefix + base64.StdEncoding.EncodeToString(data[previewHeaderLength:]),
	}
}

func classifyStatus(data gjson.Result) models.Event {
	remaining, ok := uintField(data, "status.exec_info.queue_remaining")
	if !ok {
		return nil
	}

	ev := models.QueueStatus{}
	if remaining > 0 {
		ev.Running = 1
		ev.Pending = uint32(remaining) - 1
	}
	return ev
}

func classifyProgress(data gjson.Result) models.Event {
	promptID, ok1 := stringField(data, "prompt_id")
	node, ok2 := stringField(data, "node")
	value64, ok3 := uintField(data, "value")
	max64, ok4 := uintField(data, "max")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	value, total := uint32(value64), uint32(max64)
	var percentage float32
	if total > 0 {
		percentage = float32(value) / float32(total) * 100
	}
	return models.Progress{
		PromptID:   promptID,
		Node:       node,
		Value:      value,
		Max:        total,
		Percentage: percentage,
	}
}

func classifyExecuted(data gjson.Result) models.Event {
	promptID, ok := stringField(data, "prompt_id")
	rawImages := data.Get("output.images")
	if !ok || !rawImages.IsArray() {
		return nil
	}

	var images []models.ImageResult
	for _, img := range rawImages.Array() {
		imageType, ok1 := stringField(img, "type")
		filename, ok2 := stringField(img, "filename")
		subfolder, ok3 := stringField(img, "subfolder")
		if !ok1 || !ok2 || !ok3 || imageType != "output" {
			continue
		}
		images = append(images, models.ImageResult{
			Filename:  filename,
			Subfolder: subfolder,
			Type:      imageType,
		})
	}

	if len(images) == 0 {
		return nil
	}
	return models.Completed{PromptID: promptID, Images: images}
}

func classifyExecutionError(data gjson.Result) models.Event {
	promptID, ok := stringField(data, "prompt_id")
	if !ok {
		return nil
	}

	message, ok := stringField(data, "exception_message")
	if !ok {
		message = unknownErrorMessage
	}
	return models.ExecutionError{PromptID: &promptID, Message: message}
}
