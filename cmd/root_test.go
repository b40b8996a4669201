package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"comfy-relay/server/internal/generators"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestWorkflowCommandOffline(t *testing.T) {
	out, err := runRoot(t, "workflow", "--offline", "--prompt", "a cat", "--seed", "7", "--width", "512")
	require.NoError(t, err)

	doc := gjson.Parse(out)
	assert.Equal(t, int64(7), doc.Get(generators.NodeSampler+".inputs.seed").Int())
	assert.Equal(t, int64(512), doc.Get(generators.NodeLatent+".inputs.width").Int())
	assert.Equal(t, generators.FallbackDiffusionModel, doc.Get(generators.NodeUNETLoader+".inputs.unet_name").String())
	assert.Contains(t, doc.Get(generators.NodePositiveEncode+".inputs.text").String(), "a cat")
}

func TestWorkflowCommandRejectsInvalidRequest(t *testing.T) {
	_, err := runRoot(t, "workflow", "--offline", "--prompt", "x", "--height", "32")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Height")
}

func TestWorkflowCommandRequiresPrompt(t *testing.T) {
	_, err := runRoot(t, "workflow", "--offline")
	assert.Error(t, err)
}
