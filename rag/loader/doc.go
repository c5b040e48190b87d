// Package loader reads filing exports from disk into rag.IngestRequest values.
//
// Supported formats:
//   - Plain text (.txt), one document per file
//   - Markdown (.md), one document per heading section
//   - JSON / JSONL (.json, .jsonl), one document per filing record
//
// LoaderRegistry routes by file extension:
//
//	registry := loader.NewLoaderRegistry()
//	reqs, err := registry.LoadForEntity(ctx, "AAPL", "10-K", "/data/aapl-10k-2023.md")
package loader
