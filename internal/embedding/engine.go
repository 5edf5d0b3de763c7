// Package embedding turns conversation text into vectors for semantic
// retrieval. Two backends are supported: a local Ollama server and the
// Google GenAI API.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the backend, e.g. "ollama:embeddinggemma".
	Name() string
}

// Config selects and configures the embedding backend.
type Config struct {
	// Provider is "ollama" or "genai".
	Provider string `yaml:"provider" env:"ATTUNE_EMBED_PROVIDER"`

	OllamaEndpoint string `yaml:"ollama_endpoint" env:"ATTUNE_OLLAMA_ENDPOINT"`
	OllamaModel    string `yaml:"ollama_model" env:"ATTUNE_OLLAMA_EMBED_MODEL"`

	GenAIAPIKey string `yaml:"genai_api_key" env:"GEMINI_API_KEY"`
	GenAIModel  string `yaml:"genai_model" env:"ATTUNE_GENAI_EMBED_MODEL"`
}

// DefaultConfig favors the local backend so the module works offline.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
	}
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine similarity of two vectors, in [-1, 1].
// A zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
