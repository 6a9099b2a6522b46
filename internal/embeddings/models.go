package embeddings

import "strings"

// knownModel describes a model the FastEmbed runtime ships with.
type knownModel struct {
	name string
	dims int
}

// knownModels is ordered by preference. The first entry is DefaultModel.
var knownModels = []knownModel{
	{"BAAI/bge-small-en-v1.5", 384},
	{"BAAI/bge-base-en-v1.5", 768},
	{"sentence-transformers/all-MiniLM-L6-v2", 384},
	{"BAAI/bge-small-en", 384},
	{"BAAI/bge-base-en", 768},
	{"BAAI/bge-small-zh-v1.5", 512},
}

func lookupModel(name string) (knownModel, bool) {
	for _, m := range knownModels {
		if strings.EqualFold(m.name, name) {
			return m, true
		}
	}
	return knownModel{}, false
}

// modelDimension guesses the vector width of model. Unknown models are
// sized by their family suffix and default to 384.
func modelDimension(model string) int {
	if m, ok := lookupModel(model); ok {
		return m.dims
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	}
	return 384
}
