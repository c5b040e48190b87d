package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkingConfig 分块配置, 以字符计.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{ChunkSize: 1200, ChunkOverlap: 150}
}

// Chunk 文档块
type Chunk struct {
	Content  string `json:"content"`
	Position int    `json:"position"`
}

// Chunker 递归分块器: 优先在段落、换行、句子边界切分, 最后按字符切分.
type Chunker struct {
	config     ChunkingConfig
	separators []string
}

// NewChunker 创建分块器
func NewChunker(config ChunkingConfig) *Chunker {
	def := DefaultChunkingConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 8
	}
	return &Chunker{
		config: config,
		// 分隔符优先级：段落 > 换行 > 句子 > 单词
		separators: []string{"\n\n", "\n", ". ", "。", "? ", "! ", " "},
	}
}

// Split 将文本切分为有序块, 相邻块之间带重叠.
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces := c.split(text, c.separators)
	chunks := make([]Chunk, 0, len(pieces))
	prev := ""
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		content := p
		if prev != "" && c.config.ChunkOverlap > 0 {
			if tail := overlapTail(prev, c.config.ChunkOverlap); tail != "" {
				content = tail + " " + p
			}
		}
		chunks = append(chunks, Chunk{Content: content, Position: len(chunks)})
		prev = p
	}
	return chunks
}

// split 递归分割, 贪心合并不超过 ChunkSize 的片段
func (c *Chunker) split(text string, separators []string) []string {
	size := c.config.ChunkSize
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	if len(separators) == 0 {
		return splitRunes(text, size)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.split(text, separators[1:])
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if utf8.RuneCountInString(part) > size {
			flush()
			out = append(out, c.split(part, separators[1:])...)
			continue
		}
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(part) > size {
			flush()
		}
		current.WriteString(part)
	}
	flush()
	return out
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// overlapTail 取前一块末尾约 n 个字符, 从单词边界开始
func overlapTail(prev string, n int) string {
	runes := []rune(prev)
	if len(runes) <= n {
		return ""
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
