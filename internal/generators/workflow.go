package generators

import (
	"encoding/json"
	"time"

	"comfy-relay/server/internal/models"
)

const (
	vaeModel = "diffusion_pytorch_model.safetensors"

	positivePromptPrefix = "You are an assistant designed to generate high-quality anime images with the highest degree of image-text alignment based on xml format textual prompts. <Prompt Start>\n"

	negativeTagOpen  = "<danbooru_tags>"
	negativeTagClose = "</danbooru_tags>"

	// DefaultNegativePrompt is submitted when the client sends no negative prompt.
	DefaultNegativePrompt = `<danbooru_tags>low_score_rate, worst quality, low quality, bad quality, lowres, low res, pixelated, blurry, blurred, compression artifacts, jpeg artifacts, bad anatomy, worst hands, deformed hands, deformed fingers, deformed feet, deformed toes, extra limbs, extra arms, extra legs, extra fingers, extra digits, extra digit, fused fingers, missing limbs, missing arms, missing fingers, missing toes, wrong hands, ugly hands, ugly fingers, twisted hands, flexible deformity, conjoined, disembodied, text, watermark, signature, logo, ugly, worst, very displeasing, displeasing, error, doesnotexist, unfinished, poorly drawn face, poorly drawn hands, poorly drawn feet, artistic error, bad proportions, bad perspective, out of frame, ai-generated, ai-assisted, stable diffusion, overly saturated, overly vivid, cross-eye, expressionless, scan, sketch, monochrome, simple background, abstract, sequence, lineup, 2koma, 4koma, microsoft paint \(medium\), artifacts, adversarial noise, has bad revision, resized, image sample,low_aesthetic</danbooru_tags>`
)

// Node ids of the generation graph. The remote server keys nodes by these
// strings, so they are part of the wire contract.
const (
	NodeSampler        = "3"
	NodeDecode         = "4"
	NodeVAELoader      = "5"
	NodeLatent         = "9"
	NodeSave           = "39"
	NodePreview        = "40"
	NodeRescaleCFG     = "51"
	NodeUNETLoader     = "54"
	NodeCLIPLoader     = "58"
	NodeNegativeEncode = "59"
	NodePositiveEncode = "61"
)

// Workflow is a computation graph in the remote server's API format, keyed
// by node id.
type Workflow map[string]*WorkflowNode

// WorkflowNode represents a node in the workflow
type WorkflowNode struct {
	Inputs    map[string]any `json:"inputs"`
	ClassType string         `json:"class_type"`
	Meta      NodeMeta       `json:"_meta"`
}

// NodeMeta carries the display title. The remote server ignores it.
type NodeMeta struct {
	Title string `json:"title"`
}

// Link is an edge to output slot Slot of node Node. It encodes as the
// two-element array ["node", slot].
type Link struct {
	Node string
	Slot int
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Node, l.Slot})
}

func link(node string) Link {
	return Link{Node: node, Slot: 0}
}

// randomSeed derives a non-negative seed from the wall clock.
var randomSeed = func() int64 {
	return time.Now().UnixNano() % 1_000_000_000_000_000
}

// ResolveSeed returns the seed to submit: the request's own when it is
// non-negative, otherwise a fresh random one.
func ResolveSeed(seed int64) int64 {
	if seed < 0 {
		return randomSeed()
	}
	return seed
}

// PositivePrompt prefixes the user's prompt with the model's instruction
// template.
func PositivePrompt(prompt string) string {
	return positivePromptPrefix + prompt
}

// NegativePrompt wraps a user negative prompt in the tag block, or returns
// DefaultNegativePrompt when the user gave none.
func NegativePrompt(negative string) string {
	if negative == "" {
		return DefaultNegativePrompt
	}
	return negativeTagOpen + negative + negativeTagClose
}

// BuildWorkflow fills the fixed generation graph from a validated request and
// the remote model catalog. Apart from a negative seed, the result depends
// only on its inputs.
func BuildWorkflow(req *models.GenerateRequest, catalog *models.ModelCatalog) Workflow {
	seed := ResolveSeed(req.Seed)

	unetName := findModelOr(catalog.Diffusion, diffusionKeywords, FallbackDiffusionModel)
	clipName1 := findModelOr(catalog.TextEncoder, textEncoderKeywords1, FallbackTextEncoder1)
	clipName2 := findModelOr(catalog.TextEncoder, textEncoderKeywords2, FallbackTextEncoder2)

	return Workflow{
		NodeSampler: {
			ClassType: "KSampler",
			Meta:      NodeMeta{Title: "K采样器"},
			Inputs: map[string]any{
				"seed":         seed,
				"steps":        req.Steps,
				"cfg":          req.CFG,
				"sampler_name": req.SamplerName,
				"scheduler":    req.Scheduler,
				"denoise":      req.Denoise,
				"model":        link(NodeRescaleCFG),
				"positive":     link(NodePositiveEncode),
				"negative":     link(NodeNegativeEncode),
				"latent_image": link(NodeLatent),
			},
		},
		NodeDecode: {
			ClassType: "VAEDecode",
			Meta:      NodeMeta{Title: "VAE解码"},
			Inputs: map[string]any{
				"samples": link(NodeSampler),
				"vae":     link(NodeVAELoader),
			},
		},
		NodeVAELoader: {
			ClassType: "VAELoader",
			Meta:      NodeMeta{Title: "VAE加载器"},
			Inputs: map[string]any{
				"vae_name": vaeModel,
			},
		},
		NodeLatent: {
			ClassType: "EmptySD3LatentImage",
			Meta:      NodeMeta{Title: "空Latent_SD3"},
			Inputs: map[string]any{
				"width":      req.Width,
				"height":     req.Height,
				"batch_size": req.BatchSize,
			},
		},
		NodeSave: {
			ClassType: "SaveImage",
			Meta:      NodeMeta{Title: "保存图像"},
			Inputs: map[string]any{
				"filename_prefix": "ComfyUI",
				"images":          link(NodeDecode),
			},
		},
		NodePreview: {
			ClassType: "PreviewImage",
			Meta:      NodeMeta{Title: "预览图像"},
			Inputs: map[string]any{
				"images": link(NodeDecode),
			},
		},
		NodeRescaleCFG: {
			ClassType: "RescaleCFG",
			Meta:      NodeMeta{Title: "缩放CFG"},
			Inputs: map[string]any{
				"multiplier": 0.9,
				"model":      link(NodeUNETLoader),
			},
		},
		NodeUNETLoader: {
			ClassType: "UNETLoader",
			Meta:      NodeMeta{Title: "UNET加载器"},
			Inputs: map[string]any{
				"unet_name":    unetName,
				"weight_dtype": "default",
			},
		},
		NodeCLIPLoader: {
			ClassType: "DualCLIPLoader",
			Meta:      NodeMeta{Title: "双CLIP加载器"},
			Inputs: map[string]any{
				"clip_name1": clipName1,
				"clip_name2": clipName2,
				"type":       "newbie",
				"device":     "default",
			},
		},
		NodeNegativeEncode: {
			ClassType: "CLIPTextEncode",
			Meta:      NodeMeta{Title: "CLIP文本编码器"},
			Inputs: map[string]any{
				"text": NegativePrompt(req.NegativePrompt),
				"clip": link(NodeCLIPLoader),
			},
		},
		NodePositiveEncode: {
			ClassType: "CLIPTextEncode",
			Meta:      NodeMeta{Title: "CLIP文本编码器"},
			Inputs: map[string]any{
				"text": PositivePrompt(req.Prompt),
				"clip": link(NodeCLIPLoader),
			},
		},
	}
}

// Links returns every edge in the graph keyed by "node.input".
func (w Workflow) Links() map[string]Link {
	out := make(map[string]Link)
	for id, node := range w {
		for name, v := range node.Inputs {
			if l, ok := v.(Link); ok {
				out[id+"."+name] = l
			}
		}
	}
	return out
}
