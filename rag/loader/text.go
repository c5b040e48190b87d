package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BaSui01/finrag/rag"
)

// TextLoader loads plain text files as a single document.
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads a text file and returns it as a single request keyed by file name.
func (l *TextLoader) Load(ctx context.Context, source string) ([]rag.IngestRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}

	return []rag.IngestRequest{{
		DocumentRef: filepath.Base(source),
		Title:       titleFromPath(source),
		ContentType: "text",
		Text:        string(data),
	}}, nil
}

// SupportedTypes returns the extensions handled by TextLoader.
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
