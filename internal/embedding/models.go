package embedding

// Capability describes a known embedding model.
type Capability struct {
	Provider   string
	Model      string
	Dimensions int
}

var knownModels = []Capability{
	{Provider: "local", Model: "all-MiniLM-L6-v2", Dimensions: 384},
	{Provider: "local", Model: "all-MiniLM-L12-v2", Dimensions: 384},
	{Provider: "local", Model: "all-mpnet-base-v2", Dimensions: 768},
	{Provider: "local", Model: "paraphrase-multilingual-MiniLM-L12-v2", Dimensions: 384},
	{Provider: "local", Model: "multi-qa-MiniLM-L6-cos-v1", Dimensions: 384},
	{Provider: "compat", Model: "mxbai-embed-large", Dimensions: 1024},
	{Provider: "compat", Model: "nomic-embed-text", Dimensions: 768},
	{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536},
	{Provider: "openai", Model: "text-embedding-3-large", Dimensions: 3072},
	{Provider: "openai", Model: "text-embedding-ada-002", Dimensions: 1536},
	{Provider: "gemini", Model: "text-embedding-004", Dimensions: 768},
}

// Dimensions returns the vector size a known model produces.
func Dimensions(model string) (int, bool) {
	for _, c := range knownModels {
		if c.Model == model {
			return c.Dimensions, true
		}
	}
	return 0, false
}

// KnownModels returns a copy of the capability table.
func KnownModels() []Capability {
	out := make([]Capability, len(knownModels))
	copy(out, knownModels)
	return out
}
