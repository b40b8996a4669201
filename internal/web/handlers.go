package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"comfy-relay/server/internal/adapters"
	"comfy-relay/server/internal/config"
	"comfy-relay/server/internal/generators"
	"comfy-relay/server/internal/models"
)

const serviceVersion = "0.1.0"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 14,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RelayStatus reports the upstream connection state.
type RelayStatus interface {
	State() adapters.ConnState
	Attempts() int64
}

// RecentEvents returns relayed events, newest first.
type RecentEvents interface {
	Recent(ctx context.Context, limit int64) ([]json.RawMessage, error)
}

type Handlers struct {
	config   *config.Config
	comfyui  *generators.ComfyUIClient
	images   *generators.ImageCache
	bus      *EventBus
	relay    RelayStatus
	journal  RecentEvents
	clientID string
	logger   *zap.Logger

	sessions atomic.Int64
}

// NewHandlers wires the HTTP surface. clientID is the id the listener
// registered on the event stream; prompts are submitted under it so their
// events reach the bus. journal may be nil.
func NewHandlers(cfg *config.Config, comfyui *generators.ComfyUIClient, bus *EventBus, relay RelayStatus, journal RecentEvents, clientID string) *Handlers {
	return &Handlers{
		config:   cfg,
		comfyui:  comfyui,
		images:   generators.NewImageCache(cfg.ComfyUI.ImageCacheEntries, cfg.ComfyUI.ImageCacheBytes, cfg.ComfyUI.ImageCacheTTL),
		bus:      bus,
		relay:    relay,
		journal:  journal,
		clientID: clientID,
		logger:   zap.L().Named("api"),
	}
}

// ImageCache is the cache behind /api/images.
func (h *Handlers) ImageCache() *generators.ImageCache {
	return h.images
}

// Sessions returns the number of connected browser websockets.
func (h *Handlers) Sessions() int64 {
	return h.sessions.Load()
}

func (h *Handlers) Root(r *http.Request) (any, error) {
	return map[string]any{
		"name":     "ComfyUI Relay API",
		"version":  serviceVersion,
		"base_url": h.config.Server.PublicBaseURL,
		"endpoints": map[string]string{
			"health":    "/health",
			"status":    "/api/status",
			"generate":  "POST /api/generate",
			"queue":     "/api/queue",
			"history":   "/api/history/{prompt_id}",
			"images":    "/api/images/{filename}",
			"interrupt": "POST /api/interrupt",
			"clear":     "POST /api/clear",
			"events":    "/api/events/recent",
			"websocket": "/ws",
		},
	}, nil
}

func (h *Handlers) Health(r *http.Request) (any, error) {
	ok := h.comfyui.HealthCheck(r.Context())
	status := "ok"
	if !ok {
		status = "degraded"
	}
	return map[string]any{"status": status, "comfyui": ok}, nil
}

func (h *Handlers) Status(r *http.Request) (any, error) {
	stats, err := h.comfyui.SystemStats(r.Context())
	if err != nil {
		return nil, err
	}
	queue, err := h.comfyui.Queue(r.Context())
	if err != nil {
		return nil, err
	}

	published, dropped := h.bus.Stats()
	return map[string]any{
		"comfyui": map[string]any{
			"connected": true,
			"system":    stats.System,
			"devices":   stats.Devices,
		},
		"queue": map[string]any{
			"running": len(queue.QueueRunning),
			"pending": len(queue.QueuePending),
		},
		"relay": map[string]any{
			"state":     h.relay.State().String(),
			"attempts":  h.relay.Attempts(),
			"sessions":  h.Sessions(),
			"published": published,
			"dropped":   dropped,
		},
		"image_cache": h.images.Stats(),
	}, nil
}

type testComfyUIRequest struct {
	URL string `json:"url"`
}

func (h *Handlers) TestComfyUI(r *http.Request) (any, error) {
	var req testComfyUIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}
	return map[string]bool{"success": generators.Probe(r.Context(), req.URL)}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (h *Handlers) Generate(r *http.Request) (any, error) {
	req := models.DefaultGenerateRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}

	h.logger.Info("generate request",
		zap.String("prompt", truncate(req.Prompt, 50)),
		zap.Uint32("width", req.Width),
		zap.Uint32("height", req.Height),
		zap.Uint32("steps", req.Steps))

	if err := req.Validate(); err != nil {
		return nil, invalidRequest(err)
	}

	catalog, err := h.comfyui.AvailableModels(r.Context())
	if err != nil {
		return nil, err
	}
	workflow := generators.BuildWorkflow(&req, catalog)

	res, err := h.comfyui.QueuePrompt(r.Context(), workflow, h.clientID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("prompt queued", zap.String("prompt_id", res.PromptID), zap.Int("number", res.Number))
	return models.QueueResponse{PromptID: res.PromptID, Number: res.Number}, nil
}

func (h *Handlers) Queue(r *http.Request) (any, error) {
	queue, err := h.comfyui.Queue(r.Context())
	if err != nil {
		return nil, err
	}
	running, pending := queue.QueueRunning, queue.QueuePending
	if running == nil {
		running = []json.RawMessage{}
	}
	if pending == nil {
		pending = []json.RawMessage{}
	}
	return map[string]any{
		"running":         len(running),
		"pending":         len(pending),
		"running_prompts": running,
		"pending_prompts": pending,
	}, nil
}

func (h *Handlers) History(r *http.Request) (any, error) {
	promptID := chi.URLParam(r, "prompt_id")
	history, err := h.comfyui.History(r.Context(), promptID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return nil, notFoundf("Prompt %s not found", promptID)
	}

	nodes := make([]string, 0, len(history.Outputs))
	for node := range history.Outputs {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	images := []models.ImageResult{}
	for _, node := range nodes {
		for _, img := range history.Outputs[node].Images {
			if img.Type == "output" {
				images = append(images, img)
			}
		}
	}

	status := "unknown"
	if history.Status.StatusStr != nil {
		status = *history.Status.StatusStr
	}
	completed := history.Status.Completed != nil && *history.Status.Completed

	return map[string]any{
		"prompt_id": promptID,
		"status":    status,
		"completed": completed,
		"images":    images,
	}, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (h *Handlers) Image(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	query := r.URL.Query()
	imageType := query.Get("type")
	if imageType == "" {
		imageType = "output"
	}

	subfolder := query.Get("subfolder")

	key := generators.ImageKey(filename, subfolder, imageType)
	data, ok := h.images.Get(key)
	if !ok {
		var err error
		data, err = h.comfyui.Image(r.Context(), filename, subfolder, imageType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.images.Put(key, data)
	}

	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handlers) Interrupt(r *http.Request) (any, error) {
	if err := h.comfyui.Interrupt(r.Context()); err != nil {
		return nil, err
	}
	h.logger.Info("execution interrupted")
	return map[string]string{"status": "interrupted"}, nil
}

func (h *Handlers) Clear(r *http.Request) (any, error) {
	if err := h.comfyui.ClearQueue(r.Context()); err != nil {
		return nil, err
	}
	h.logger.Info("queue cleared")
	return map[string]string{"status": "cleared"}, nil
}

func (h *Handlers) RecentEvents(r *http.Request) (any, error) {
	if h.journal == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "event journal is not configured")
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalidRequest(errors.New("limit must be an integer"))
		}
		limit = n
	}

	events, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return map[string]any{"events": events}, nil
}

// Websocket upgrades the request and runs a Session for its lifetime.
func (h *Handlers) Websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.sessions.Inc()
	defer h.sessions.Dec()

	NewSession(conn, h.bus).Run()
}
