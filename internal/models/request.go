package models

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// GenerateRequest is the image generation request sent by the frontend.
type GenerateRequest struct {
	Prompt         string  `json:"prompt" validate:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          uint32  `json:"width" validate:"min=64,max=4096"`
	Height         uint32  `json:"height" validate:"min=64,max=4096"`
	Steps          uint32  `json:"steps"`
	CFG            float64 `json:"cfg"`
	Seed           int64   `json:"seed"` // -1 picks a random seed
	SamplerName    string  `json:"sampler_name"`
	Scheduler      string  `json:"scheduler"`
	Denoise        float64 `json:"denoise"`
	BatchSize      uint32  `json:"batch_size"`
}

// DefaultGenerateRequest returns the values used for any field the client
// leaves out. Decode request bodies on top of it.
func DefaultGenerateRequest() GenerateRequest {
	return GenerateRequest{
		Width:       1024,
		Height:      1536,
		Steps:       28,
		CFG:         4.5,
		Seed:        -1,
		SamplerName: "res_multistep",
		Scheduler:   "linear_quadratic",
		Denoise:     1.0,
		BatchSize:   1,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request against the bounds the remote server accepts.
// The returned error message is safe to show to the client.
func (r *GenerateRequest) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	// report in field declaration order, first failure only
	switch verrs[0].StructField() {
	case "Prompt":
		return errors.New("Prompt cannot be empty")
	case "Width":
		return errors.New("Width must be between 64 and 4096")
	case "Height":
		return errors.New("Height must be between 64 and 4096")
	default:
		return fmt.Errorf("invalid field %s", verrs[0].Field())
	}
}

// QueueResponse is returned to the frontend after a prompt is queued.
type QueueResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}
