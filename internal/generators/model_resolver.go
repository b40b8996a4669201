package generators

import "strings"

// Keyword priorities used to pick model files out of the remote catalog.
var (
	diffusionKeywords    = []string{"newbie"}
	textEncoderKeywords1 = []string{"gemma_3_4b", "gemma3_4b", "gemma_3", "gemma3", "gemma"}
	textEncoderKeywords2 = []string{"jina"}
)

// Filenames used when no catalog entry matches.
const (
	FallbackDiffusionModel = "newbie01.safetensors"
	FallbackTextEncoder1   = "gemma3-4b-it.safetensors"
	FallbackTextEncoder2   = "jina-clip-v2.safetensors"
)

// FindModel returns the first catalog entry containing the first keyword
// that matches anything, compared case-insensitively. Keywords are tried in
// priority order; within a keyword the catalog order decides.
func FindModel(catalog []string, keywords []string) (string, bool) {
	for _, keyword := range keywords {
		k := strings.ToLower(keyword)
		for _, name := range catalog {
			if strings.Contains(strings.ToLower(name), k) {
				return name, true
			}
		}
	}
	return "", false
}

func findModelOr(catalog []string, keywords []string, fallback string) string {
	if name, ok := FindModel(catalog, keywords); ok {
		return name
	}
	return fallback
}
