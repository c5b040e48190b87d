package chart

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/config"
	"go.uber.org/zap"
)

// Ref 生成的图表引用
type Ref struct {
	URL      string   `json:"url"`
	Format   string   `json:"format"`
	Metrics  []string `json:"metrics"`
	Entities []string `json:"entities"`
	Bytes    int      `json:"bytes"`
}

// Generator builds a chart from a comparison answer.
type Generator struct {
	renderer   Renderer
	uploader   Uploader
	maxMetrics int
	logger     *zap.Logger
}

// NewGenerator 创建图表生成器. uploader 可为 nil, 此时只渲染不存储.
func NewGenerator(renderer Renderer, uploader Uploader, maxMetrics int, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = NewPlotRenderer()
	}
	if maxMetrics <= 0 {
		maxMetrics = config.DefaultChartConfig().MaxMetrics
	}
	return &Generator{renderer: renderer, uploader: uploader, maxMetrics: maxMetrics, logger: logger.With(zap.String("component", "chart"))}
}

// NewGeneratorFromConfig wires the uploader selected by cfg: S3 when a bucket
// is set, else the local output directory.
func NewGeneratorFromConfig(ctx context.Context, cfg config.ChartConfig, logger *zap.Logger) (*Generator, error) {
	var up Uploader
	switch {
	case cfg.S3Bucket != "":
		s3up, err := NewS3Uploader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = s3up
	case cfg.OutputDir != "":
		up = FileUploader{Dir: cfg.OutputDir}
	}
	return NewGenerator(NewPlotRenderer(), up, cfg.MaxMetrics, logger), nil
}

// FromAnswer parses the answer text and renders it. id names the stored object.
// Errors carry CHART_PARSE_FAILURE when the table cannot be used.
func (g *Generator) FromAnswer(ctx context.Context, id, text string, table *answer.ComparisonTable) (*Ref, error) {
	var t answer.ComparisonTable
	if table != nil {
		t = *table
	} else {
		parsed, ok := answer.ParseTable(text)
		if !ok {
			return nil, errNoTable
		}
		t = parsed
	}
	return g.Generate(ctx, id, t)
}

// Generate renders t and uploads it when an uploader is configured.
func (g *Generator) Generate(ctx context.Context, id string, t answer.ComparisonTable) (*Ref, error) {
	data, err := Extract(t, g.maxMetrics)
	if err != nil {
		return nil, err
	}
	img, err := g.renderer.Render(strings.Join(data.Entities, " vs "), data)
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}

	ref := &Ref{
		Format:   g.renderer.Format(),
		Metrics:  data.Metrics,
		Entities: data.Entities,
		Bytes:    len(img),
	}
	if g.uploader != nil {
		key := fmt.Sprintf("%s.%s", id, ref.Format)
		url, err := g.uploader.Upload(ctx, key, img, "image/"+ref.Format)
		if err != nil {
			return nil, fmt.Errorf("upload chart: %w", err)
		}
		ref.URL = url
	}
	g.logger.Info("chart generated",
		zap.String("id", id),
		zap.Int("metrics", len(data.Metrics)),
		zap.Int("entities", len(data.Entities)),
		zap.String("url", ref.URL))
	return ref, nil
}
