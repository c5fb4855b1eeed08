package models

// ModelConfig is an immutable snapshot of the request-shaping parameters sent
// with every chat completion. It is held in configuration, mutated only by
// explicit settings changes, and read (never written) by the request builder.
type ModelConfig struct {
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"maxTokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Stream      bool    `yaml:"stream" json:"stream"`

	// CacheThreshold is the similarity threshold for server-side cache
	// matching, between 0.0 and 1.0.
	CacheThreshold float64 `yaml:"cacheThreshold" json:"cache_threshold"`
	// IsCached permits the backend to answer from its response cache.
	IsCached bool `yaml:"isCached" json:"is_cached"`
	// UseRAG asks the backend to augment answers with indexed knowledge-base
	// content. Opaque to this client beyond being a passthrough flag.
	UseRAG bool `yaml:"useRAG" json:"use_rag"`
}

// ModelInfo describes one selectable model reported by a backend's registry.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}
