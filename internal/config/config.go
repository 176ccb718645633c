// Package config provides configuration loading and structs for the Miru server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the patch store backend and paths for the registry.
type StorageConfig struct {
	// Backend selects the patch store: "sqlite" (default), "memory", "qdrant".
	Backend       string       `yaml:"backend"`
	DatabasePath  string       `yaml:"database_path"`
	DocumentsDir  string       `yaml:"documents_dir"`
	NameIndexPath string       `yaml:"name_index_path"`
	Qdrant        QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds settings for the Qdrant patch store backend.
// The API key is read from the QDRANT_API_KEY environment variable, not the
// config file.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"-"`
}

// EmbeddingConfig holds patch embedder settings.
type EmbeddingConfig struct {
	ModelPath     string `yaml:"model_path"`
	TextModelPath string `yaml:"text_model_path"`
	// Dimensions is the patch vector dimension D; every stored and query
	// vector must have exactly this length.
	Dimensions int `yaml:"dimensions"`
	// MaxPatchesPerPage caps how many patch vectors one page may store;
	// excess patches are truncated by index (first N kept).
	MaxPatchesPerPage int `yaml:"max_patches_per_page"`
	MaxQueryTokens    int `yaml:"max_query_tokens"`
	CacheSize         int `yaml:"cache_size"`
}

// IngestConfig holds rasterization settings for ingestion.
type IngestConfig struct {
	DPI int `yaml:"dpi"`
	// MaxPages truncates documents to the first N pages; 0 means no limit.
	MaxPages int `yaml:"max_pages"`
}

// RetrievalConfig holds retrieval and aggregation settings.
type RetrievalConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
	// CandidateK is the per-query-patch over-fetch width. It must stay well
	// above TopK: under-fetching starves the MaxSim aggregation of candidates
	// and collapses rankings toward identical scores.
	CandidateK int `yaml:"candidate_k"`
}

// WatchConfig holds directory watch settings for auto-ingestion.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and picks up environment overrides (QDRANT_API_KEY).
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.DocumentsDir = expandPath(cfg.Storage.DocumentsDir, configDir)
	cfg.Storage.NameIndexPath = expandPath(cfg.Storage.NameIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	cfg.Storage.Qdrant.APIKey = os.Getenv("QDRANT_API_KEY")

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
