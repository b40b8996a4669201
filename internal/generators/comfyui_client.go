package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"comfy-relay/server/internal/models"
)

const (
	defaultTimeout = 300 * time.Second
	probeTimeout   = 5 * time.Second
)

// Paths into GET /object_info for the loader nodes whose option lists form
// the model catalog.
const (
	diffusionCatalogPath   = "UNETLoader.input.required.unet_name.0"
	textEncoderCatalogPath = "DualCLIPLoader.input.required.clip_name1.0"
)

// UpstreamError is returned when the remote server answers with a non-2xx
// status.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("failed to %s: %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("failed to %s: %d", e.Op, e.StatusCode)
}

// ComfyUIClient talks to the remote server's HTTP API. Every call is a single
// request with no retry.
type ComfyUIClient struct {
	client  *resty.Client
	baseURL string
	logger  *zap.Logger
}

// NewComfyUIClient creates a client for the server at baseURL. A zero timeout
// uses the default of five minutes.
func NewComfyUIClient(baseURL string, timeout time.Duration) *ComfyUIClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &ComfyUIClient{
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		baseURL: baseURL,
		logger:  zap.L().Named("comfyui"),
	}
}

// BaseURL returns the server address this client was created with.
func (c *ComfyUIClient) BaseURL() string {
	return c.baseURL
}

func upstreamError(op string, res *resty.Response) error {
	return &UpstreamError{Op: op, StatusCode: res.StatusCode(), Body: strings.TrimSpace(res.String())}
}

// HealthCheck reports whether the server answers GET /system_stats. It never
// returns an error for an unreachable server.
func (c *ComfyUIClient) HealthCheck(ctx context.Context) bool {
	res, err := c.client.R().SetContext(ctx).Get("/system_stats")
	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return res.IsSuccess()
}

func (c *ComfyUIClient) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	res, err := c.client.R().SetContext(ctx).Get("/system_stats")
	if err != nil {
		return nil, fmt.Errorf("get system stats: %w", err)
	}
	var stats models.SystemStats
	if err := decode("get system stats", res, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *ComfyUIClient) Queue(ctx context.Context) (*models.QueueState, error) {
	res, err := c.client.R().SetContext(ctx).Get("/queue")
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	var queue models.QueueState
	if err := decode("get queue", res, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// QueuePrompt submits a workflow. clientID routes the execution events to the
// event stream connection that registered the same id.
func (c *ComfyUIClient) QueuePrompt(ctx context.Context, workflow Workflow, clientID string) (*models.PromptResponse, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(models.PromptRequest{Prompt: workflow, ClientID: clientID}).
		Post("/prompt")
	if err != nil {
		return nil, fmt.Errorf("queue prompt: %w", err)
	}
	var out models.PromptResponse
	if err := decode("queue prompt", res, &out); err != nil {
		return nil, err
	}
	if out.PromptID == "" {
		return nil, &UpstreamError{Op: "queue prompt", StatusCode: res.StatusCode(), Body: "response missing prompt_id"}
	}
	return &out, nil
}

func decode(op string, res *resty.Response, v any) error {
	if !res.IsSuccess() {
		return upstreamError(op, res)
	}
	if err := json.Unmarshal(res.Body(), v); err != nil {
		return &UpstreamError{Op: op, StatusCode: res.StatusCode(), Body: err.Error()}
	}
	return nil
}

func emptyBody(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return s == "" || s == "{}"
}

// History returns the history entry for promptID, or nil when the server has
// no record of it. Some server versions answer the per-prompt route with 404
// or an empty object until the full history is consulted.
func (c *ComfyUIClient) History(ctx context.Context, promptID string) (*models.PromptHistory, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("prompt_id", promptID).
		Get("/history/{prompt_id}")
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	if res.StatusCode() == http.StatusNotFound || (res.IsSuccess() && emptyBody(res.Body())) {
		return c.historyFromAll(ctx, promptID)
	}
	if !res.IsSuccess() {
		return nil, upstreamError("get history", res)
	}

	var byID map[string]models.PromptHistory
	if err := json.Unmarshal(res.Body(), &byID); err == nil {
		if entry, ok := byID[promptID]; ok {
			return &entry, nil
		}
	}

	var entry models.PromptHistory
	if err := json.Unmarshal(res.Body(), &entry); err == nil && gjson.GetBytes(res.Body(), "outputs").Exists() {
		return &entry, nil
	}

	return nil, &UpstreamError{Op: "get history", StatusCode: res.StatusCode(), Body: "unparseable history response"}
}

func (c *ComfyUIClient) historyFromAll(ctx context.Context, promptID string) (*models.PromptHistory, error) {
	res, err := c.client.R().SetContext(ctx).Get("/history")
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if !res.IsSuccess() {
		return nil, upstreamError("get history", res)
	}
	if emptyBody(res.Body()) {
		return nil, nil
	}

	var all map[string]models.PromptHistory
	if err := json.Unmarshal(res.Body(), &all); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	entry, ok := all[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Image downloads an image file from the server's output store.
func (c *ComfyUIClient) Image(ctx context.Context, filename, subfolder, imageType string) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", filename)
	query.Set("subfolder", subfolder)
	query.Set("type", imageType)

	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get("/view")
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !res.IsSuccess() {
		return nil, upstreamError("get image", res)
	}
	return res.Body(), nil
}

// Interrupt cancels the execution currently running on the server.
func (c *ComfyUIClient) Interrupt(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Post("/interrupt")
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	if !res.IsSuccess() {
		return upstreamError("interrupt", res)
	}
	return nil
}

// ClearQueue drops every pending prompt.
func (c *ComfyUIClient) ClearQueue(ctx context.Context) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]bool{"clear": true}).
		Post("/queue")
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if !res.IsSuccess() {
		return upstreamError("clear queue", res)
	}
	return nil
}

// AvailableModels reads the loader option lists from GET /object_info. A
// loader the server does not report yields an empty list.
func (c *ComfyUIClient) AvailableModels(ctx context.Context) (*models.ModelCatalog, error) {
	res, err := c.client.R().SetContext(ctx).Get("/object_info")
	if err != nil {
		return nil, fmt.Errorf("get object info: %w", err)
	}
	if !res.IsSuccess() {
		return nil, upstreamError("get object info", res)
	}

	body := res.Body()
	catalog := &models.ModelCatalog{
		Diffusion:   stringList(gjson.GetBytes(body, diffusionCatalogPath)),
		TextEncoder: stringList(gjson.GetBytes(body, textEncoderCatalogPath)),
	}

	c.logger.Debug("model catalog",
		zap.Strings("diffusion", catalog.Diffusion),
		zap.Strings("text_encoder", catalog.TextEncoder))
	return catalog, nil
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.String())
		}
	}
	return out
}

// Probe reports whether some other server answers at baseURL. Used by the
// connectivity test endpoint before a user switches servers.
func Probe(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := resty.New().R().
		SetContext(ctx).
		Get(strings.TrimRight(baseURL, "/") + "/system_stats")
	if err != nil {
		return false
	}
	return res.IsSuccess()
}
