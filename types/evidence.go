package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// EvidenceSource 证据来源.
type EvidenceSource string

const (
	SourceIndex EvidenceSource = "index"
	SourceWeb   EvidenceSource = "web"
)

// ClipContent returns the longest prefix of s that fits in n bytes without
// splitting a UTF-8 sequence.
func ClipContent(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// keyPrefixLen is how much of the content participates in the dedup key.
const keyPrefixLen = 256

// EvidenceChunk 单条检索证据, 带来源信息.
type EvidenceChunk struct {
	Content     string            `json:"content"`
	Source      EvidenceSource    `json:"source"`
	Entity      string            `json:"entity"`
	DocumentRef string            `json:"document_ref"`
	Position    int               `json:"position"`
	SubQuery    string            `json:"sub_query,omitempty"`
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Score       float64           `json:"score,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Key returns the composite dedup key (entity, document, position, content-prefix-hash).
func (c EvidenceChunk) Key() string {
	prefix := strings.TrimSpace(c.Content)
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	h := sha256.Sum256([]byte(prefix))
	return fmt.Sprintf("%s|%s|%d|%s",
		NormalizeEntity(c.Entity), c.DocumentRef, c.Position, hex.EncodeToString(h[:8]))
}

// EvidenceSet 去重后的有序证据集合.
// 零值可直接使用.
type EvidenceSet struct {
	Chunks []EvidenceChunk `json:"chunks"`

	seen map[string]struct{}
}

// NewEvidenceSet builds a set from chunks, dropping duplicates.
func NewEvidenceSet(chunks ...EvidenceChunk) EvidenceSet {
	var s EvidenceSet
	s.Add(chunks...)
	return s
}

func (s *EvidenceSet) index() {
	if s.seen != nil {
		return
	}
	s.seen = make(map[string]struct{}, len(s.Chunks))
	for _, c := range s.Chunks {
		s.seen[c.Key()] = struct{}{}
	}
}

// Add appends chunks whose key is not already present. Returns how many were added.
func (s *EvidenceSet) Add(chunks ...EvidenceChunk) int {
	s.index()
	added := 0
	for _, c := range chunks {
		k := c.Key()
		if _, ok := s.seen[k]; ok {
			continue
		}
		s.seen[k] = struct{}{}
		s.Chunks = append(s.Chunks, c)
		added++
	}
	return added
}

// Contains reports whether a chunk with the same key is present.
func (s *EvidenceSet) Contains(c EvidenceChunk) bool {
	s.index()
	_, ok := s.seen[c.Key()]
	return ok
}

// Len returns the number of chunks.
func (s EvidenceSet) Len() int { return len(s.Chunks) }

// IsEmpty reports whether the set holds no evidence.
func (s EvidenceSet) IsEmpty() bool { return len(s.Chunks) == 0 }

// Clone returns an independent copy.
func (s EvidenceSet) Clone() EvidenceSet {
	out := EvidenceSet{Chunks: make([]EvidenceChunk, len(s.Chunks))}
	copy(out.Chunks, s.Chunks)
	return out
}

// Merge returns a new set holding s followed by the unseen chunks of other.
// Prior evidence is never dropped.
func (s EvidenceSet) Merge(other EvidenceSet) EvidenceSet {
	out := s.Clone()
	out.Add(other.Chunks...)
	return out
}

// Keys returns the dedup keys in set order.
func (s EvidenceSet) Keys() []string {
	keys := make([]string, len(s.Chunks))
	for i, c := range s.Chunks {
		keys[i] = c.Key()
	}
	return keys
}

// BySource returns chunks from the given source, in order.
func (s EvidenceSet) BySource(src EvidenceSource) []EvidenceChunk {
	var out []EvidenceChunk
	for _, c := range s.Chunks {
		if c.Source == src {
			out = append(out, c)
		}
	}
	return out
}

// Entities returns the normalized entities present, sorted.
func (s EvidenceSet) Entities() []string {
	set := make(map[string]struct{})
	for _, c := range s.Chunks {
		if c.Entity != "" {
			set[NormalizeEntity(c.Entity)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// CountByEntity returns the number of chunks per normalized entity.
func (s EvidenceSet) CountByEntity() map[string]int {
	out := make(map[string]int)
	for _, c := range s.Chunks {
		out[NormalizeEntity(c.Entity)]++
	}
	return out
}

// SortChunks orders chunks by entity, then descending score, then key.
// Used to make fan-in results independent of completion order.
func SortChunks(chunks []EvidenceChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		ei, ej := NormalizeEntity(chunks[i].Entity), NormalizeEntity(chunks[j].Entity)
		if ei != ej {
			return ei < ej
		}
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Key() < chunks[j].Key()
	})
}

// Provenance 返回给调用方的证据出处.
type Provenance struct {
	Source      EvidenceSource `json:"source"`
	Entity      string         `json:"entity,omitempty"`
	DocumentRef string         `json:"document_ref,omitempty"`
	URL         string         `json:"url,omitempty"`
	Title       string         `json:"title,omitempty"`
}

// Provenance lists one record per distinct document or URL, in set order.
func (s EvidenceSet) Provenance() []Provenance {
	seen := make(map[string]struct{})
	var out []Provenance
	for _, c := range s.Chunks {
		id := string(c.Source) + "|" + c.DocumentRef + "|" + c.URL
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Provenance{
			Source:      c.Source,
			Entity:      c.Entity,
			DocumentRef: c.DocumentRef,
			URL:         c.URL,
			Title:       c.Title,
		})
	}
	return out
}

// ByEntity returns chunks for entity, in set order.
func (s EvidenceSet) ByEntity(entity string) []EvidenceChunk {
	want := NormalizeEntity(entity)
	var out []EvidenceChunk
	for _, c := range s.Chunks {
		if NormalizeEntity(c.Entity) == want {
			out = append(out, c)
		}
	}
	return out
}

// Sorted returns a copy ordered by SortChunks.
func (s EvidenceSet) Sorted() EvidenceSet {
	out := s.Clone()
	SortChunks(out.Chunks)
	return out
}
