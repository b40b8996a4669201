package generators

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfy-relay/server/internal/models"
)

const objectInfo = `{
  "UNETLoader": {"input": {"required": {"unet_name": [["newbie01.safetensors", "flux.safetensors"], {}]}}},
  "DualCLIPLoader": {"input": {"required": {"clip_name1": [["gemma3-4b-it.safetensors", "jina-clip-v2.safetensors"]]}}}
}`

func newTestClient(t *testing.T, mux *http.ServeMux) *ComfyUIClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewComfyUIClient(srv.URL+"/", 0)
}

func TestAvailableModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/object_info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, objectInfo)
	})
	client := newTestClient(t, mux)

	catalog, err := client.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"newbie01.safetensors", "flux.safetensors"}, catalog.Diffusion)
	assert.Equal(t, []string{"gemma3-4b-it.safetensors", "jina-clip-v2.safetensors"}, catalog.TextEncoder)
}

func TestAvailableModelsMissingLoaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/object_info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"KSampler": {}}`)
	})
	client := newTestClient(t, mux)

	catalog, err := client.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, catalog.Diffusion)
	assert.Empty(t, catalog.TextEncoder)
}

func TestQueuePrompt(t *testing.T) {
	var got models.PromptRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"prompt_id": "abc", "number": 3, "node_errors": {}}`)
	})
	client := newTestClient(t, mux)

	wf := BuildWorkflow(generateRequest("x"), &models.ModelCatalog{})
	res, err := client.QueuePrompt(context.Background(), wf, "relay-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", res.PromptID)
	assert.Equal(t, 3, res.Number)
	assert.Equal(t, "relay-1", got.ClientID)
	assert.Len(t, got.Prompt, 11)
}

func TestQueuePromptRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": "invalid prompt"}`)
	})
	client := newTestClient(t, mux)

	_, err := client.QueuePrompt(context.Background(), Workflow{}, "")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "invalid prompt")
}

const historyEntry = `{"prompt": [1, "abc", {}], "outputs": {"39": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}]}}, "status": {"status_str": "success", "completed": true}}`

func TestHistoryByID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history/abc", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"abc": `+historyEntry+`}`)
	})
	client := newTestClient(t, mux)

	h, err := client.History(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "a.png", h.Outputs["39"].Images[0].Filename)
	assert.Equal(t, "success", *h.Status.StatusStr)
}

func TestHistoryBareEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history/abc", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyEntry)
	})
	client := newTestClient(t, mux)

	h, err := client.History(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, *h.Status.Completed)
}

func TestHistoryFallsBackToFullHistory(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"empty":     func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, " {} ") },
	} {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/history/abc", handler)
			mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"abc": `+historyEntry+`}`)
			})
			client := newTestClient(t, mux)

			h, err := client.History(context.Background(), "abc")
			require.NoError(t, err)
			require.NotNil(t, h)
			assert.Contains(t, h.Outputs, "39")
		})
	}
}

func TestHistoryUnknownPrompt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "{}") })
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "{}") })
	client := newTestClient(t, mux)

	h, err := client.History(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestImageEscapesQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "a b&c.png", q.Get("filename"))
		assert.Equal(t, "sub/dir", q.Get("subfolder"))
		assert.Equal(t, "output", q.Get("type"))
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	client := newTestClient(t, mux)

	data, err := client.Image(context.Background(), "a b&c.png", "sub/dir", "output")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestControlCalls(t *testing.T) {
	var interrupted bool
	var clearBody map[string]bool
	mux := http.NewServeMux()
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, r *http.Request) {
		interrupted = r.Method == http.MethodPost
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&clearBody)
			return
		}
		io.WriteString(w, `{"queue_running": [[0, "a"]], "queue_pending": [[1, "b"], [2, "c"]]}`)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, client.Interrupt(ctx))
	assert.True(t, interrupted)

	require.NoError(t, client.ClearQueue(ctx))
	assert.Equal(t, map[string]bool{"clear": true}, clearBody)

	queue, err := client.Queue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue.QueueRunning, 1)
	assert.Len(t, queue.QueuePending, 2)
}

func TestHealthCheckAndProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"system": {"os": "posix", "python_version": "3.11"}, "devices": [{"name": "cuda:0", "type": "cuda", "vram_total": 100}]}`)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	assert.True(t, client.HealthCheck(ctx))
	assert.True(t, Probe(ctx, client.BaseURL()+"/"))

	stats, err := client.SystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "posix", stats.System.OS)
	require.Len(t, stats.Devices, 1)
	assert.EqualValues(t, 100, stats.Devices[0].VRAMTotal)

	down := NewComfyUIClient("http://127.0.0.1:1", 0)
	assert.False(t, down.HealthCheck(ctx))
	assert.False(t, Probe(ctx, "http://127.0.0.1:1"))
}
