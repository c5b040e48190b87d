package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/types"
)

// DocumentLoader reads a source file into ingest requests.
type DocumentLoader interface {
	// Load reads the source and returns one request per logical document.
	// Entity may be empty when the source does not name one.
	Load(ctx context.Context, source string) ([]rag.IngestRequest, error)

	// SupportedTypes returns the file extensions this loader handles (e.g. ".txt", ".md").
	SupportedTypes() []string
}

// LoaderRegistry routes Load calls to the appropriate DocumentLoader based on file extension.
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader // extension (lowercase, with dot) -> loader
}

// NewLoaderRegistry creates a registry pre-populated with the built-in loaders.
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{
		loaders: make(map[string]DocumentLoader),
	}

	builtins := []DocumentLoader{
		NewTextLoader(),
		NewMarkdownLoader(),
		NewJSONLoader(JSONLoaderConfig{}),
	}
	for _, l := range builtins {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}

	return r
}

// Register adds or replaces a loader for the given file extension.
func (r *LoaderRegistry) Register(ext string, loader DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

// Load determines the loader from the source's file extension and delegates to it.
func (r *LoaderRegistry) Load(ctx context.Context, source string) ([]rag.IngestRequest, error) {
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", source)
	}

	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}

	return l.Load(ctx, source)
}

// LoadForEntity loads source and fills in entity and content type where the file left them empty.
func (r *LoaderRegistry) LoadForEntity(ctx context.Context, entity, contentType, source string) ([]rag.IngestRequest, error) {
	reqs, err := r.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if reqs[i].Entity == "" {
			reqs[i].Entity = entity
		}
		if contentType != "" {
			reqs[i].ContentType = contentType
		}
		if types.NormalizeEntity(reqs[i].Entity) == "" {
			return nil, fmt.Errorf("loader: %s document %q has no entity", source, reqs[i].DocumentRef)
		}
	}
	return reqs, nil
}

// SupportedTypes returns all registered extensions, sorted.
func (r *LoaderRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func titleFromPath(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
