package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/finrag/rag"
)

// JSONLoaderConfig configures the JSON/JSONL loader.
// Zero values select the filing record layout:
//
//	{"entity": "AAPL", "document_ref": "aapl-10k-2023", "title": "...", "content_type": "10-K", "text": "..."}
type JSONLoaderConfig struct {
	// ContentField is the JSON field holding the document text. Default "text".
	// When the field is absent the whole object is serialized as text.
	ContentField string
	// RefField is the JSON field holding the document reference. Default "document_ref".
	// When absent a file#index reference is generated.
	RefField string
}

// JSONLoader loads JSON (single object or array) and JSONL files.
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader creates a JSONLoader.
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	if config.ContentField == "" {
		config.ContentField = "text"
	}
	if config.RefField == "" {
		config.RefField = "document_ref"
	}
	return &JSONLoader{config: config}
}

// Load reads a JSON or JSONL file and returns one request per object.
func (l *JSONLoader) Load(ctx context.Context, source string) ([]rag.IngestRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(source))
	if ext == ".jsonl" {
		return l.loadJSONL(source)
	}
	return l.loadJSON(source)
}

// loadJSON handles .json files (single object or array).
func (l *JSONLoader) loadJSON(source string) ([]rag.IngestRequest, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return []rag.IngestRequest{}, nil
	}

	// Try array first, then single object.
	if data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("json loader: parsing array in %s: %w", source, err)
		}
		return l.objectsToDocs(source, items), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("json loader: parsing object in %s: %w", source, err)
	}
	return l.objectsToDocs(source, []map[string]any{obj}), nil
}

// loadJSONL handles .jsonl files (one JSON object per line).
func (l *JSONLoader) loadJSONL(source string) ([]rag.IngestRequest, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("jsonl loader: %w", err)
	}
	defer f.Close()

	var items []map[string]any
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("jsonl loader: line %d in %s: %w", lineNum, source, err)
		}
		items = append(items, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl loader: reading %s: %w", source, err)
	}

	return l.objectsToDocs(source, items), nil
}

// objectsToDocs converts parsed JSON objects into ingest requests.
func (l *JSONLoader) objectsToDocs(source string, items []map[string]any) []rag.IngestRequest {
	baseName := filepath.Base(source)
	docs := make([]rag.IngestRequest, 0, len(items))

	for i, obj := range items {
		contentType := stringField(obj, "content_type")
		if contentType == "" {
			contentType = "json"
		}
		title := stringField(obj, "title")
		if title == "" {
			title = titleFromPath(source)
		}
		docs = append(docs, rag.IngestRequest{
			Entity:      stringField(obj, "entity"),
			DocumentRef: l.extractRef(obj, baseName, i),
			Title:       title,
			ContentType: contentType,
			Text:        l.extractContent(obj),
		})
	}
	return docs
}

// extractContent gets the content string from a JSON object.
func (l *JSONLoader) extractContent(obj map[string]any) string {
	if val, ok := obj[l.config.ContentField]; ok {
		return fmt.Sprintf("%v", val)
	}
	// Fallback: serialize the whole object.
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

func (l *JSONLoader) extractRef(obj map[string]any, baseName string, index int) string {
	if ref := stringField(obj, l.config.RefField); ref != "" {
		return ref
	}
	return fmt.Sprintf("%s#%d", baseName, index)
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

// SupportedTypes returns the extensions handled by JSONLoader.
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
