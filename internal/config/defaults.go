package config

// Default tunables. Dimensions and MaxPatchesPerPage follow the ColPali-style
// embedder (128-dim patches, at most 1030 patches per page incl. the global
// token); CandidateK is the per-probe over-fetch width for MaxSim aggregation.
const (
	DefaultDimensions        = 128
	DefaultMaxPatchesPerPage = 1030
	DefaultCandidateK        = 100
	DefaultDPI               = 144
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/miru/data/db/miru.db"
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = "/usr/local/var/miru/data/documents"
	}
	if cfg.Storage.NameIndexPath == "" {
		cfg.Storage.NameIndexPath = "/usr/local/var/miru/data/indices/names"
	}
	if cfg.Storage.Qdrant.URL == "" {
		cfg.Storage.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.Storage.Qdrant.Collection == "" {
		cfg.Storage.Qdrant.Collection = "miru_patches"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/miru/data/models/colpali-v1.2.onnx"
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "/usr/local/var/miru/data/models/colpali-v1.2-text.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.MaxPatchesPerPage == 0 {
		cfg.Embedding.MaxPatchesPerPage = DefaultMaxPatchesPerPage
	}
	if cfg.Embedding.MaxQueryTokens == 0 {
		cfg.Embedding.MaxQueryTokens = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Ingest.DPI == 0 {
		cfg.Ingest.DPI = DefaultDPI
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 10
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 100
	}
	if cfg.Retrieval.CandidateK == 0 {
		cfg.Retrieval.CandidateK = DefaultCandidateK
	}
	// CandidateK below TopK would starve aggregation; never allow it.
	if cfg.Retrieval.CandidateK < cfg.Retrieval.MaxTopK {
		cfg.Retrieval.CandidateK = cfg.Retrieval.MaxTopK
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
