// Package contextbuilder fits resume text into a model prompt budget,
// keeping the sections that matter most for a stage.
package contextbuilder

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

type BuildInput struct {
	Task           string
	Text           string
	Keywords       []string
	MaxInputTokens int
	MaxChunks      int
}

type BuildOutput struct {
	ContextText string
	Chunks      []Chunk
	TokenCount  int
	Truncated   bool
}

type cachedBuild struct {
	output    BuildOutput
	expiresAt time.Time
}

// Builder caches outputs briefly so stage retries do not split the same
// resume again.
type Builder struct {
	retriever Retriever

	cacheMu    sync.RWMutex
	cache      map[uint64]cachedBuild
	cacheTTL   time.Duration
	cacheLimit int
}

func NewBuilder(retriever Retriever) *Builder {
	return &Builder{
		retriever:  retriever,
		cache:      make(map[uint64]cachedBuild),
		cacheTTL:   90 * time.Second,
		cacheLimit: 1024,
	}
}

// Build picks the highest scoring sections that fit the budget and emits
// them in their original order.
func (b *Builder) Build(ctx context.Context, input BuildInput) (BuildOutput, error) {
	if b.retriever == nil {
		return BuildOutput{}, apperr.New("retriever is required")
	}
	input = normalizeBuildInput(input)

	cacheKey := buildCacheKey(input)
	if cached, ok := b.cacheGet(cacheKey); ok {
		return cloneBuildOutput(cached), nil
	}

	chunks, err := b.retriever.Retrieve(ctx, RetrievalInput{
		Task:     input.Task,
		Text:     input.Text,
		Keywords: input.Keywords,
	})
	if err != nil {
		return BuildOutput{}, err
	}

	ranked := append([]Chunk(nil), chunks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Order < ranked[j].Order
		}
		return ranked[i].Score > ranked[j].Score
	})

	selected := make([]Chunk, 0, len(ranked))
	totalTokens := 0
	for _, chunk := range ranked {
		estimatedTokens := estimateTokens(chunk.Text)
		if estimatedTokens <= 0 || totalTokens+estimatedTokens > input.MaxInputTokens {
			continue
		}
		selected = append(selected, chunk)
		totalTokens += estimatedTokens
		if len(selected) >= input.MaxChunks {
			break
		}
	}

	if len(selected) == 0 && len(ranked) > 0 {
		head := ranked[0]
		head.Text = truncateRunes(head.Text, input.MaxInputTokens*4)
		selected = append(selected, head)
		totalTokens = estimateTokens(head.Text)
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Order < selected[j].Order })

	parts := make([]string, 0, len(selected))
	for _, chunk := range selected {
		parts = append(parts, chunk.Text)
	}

	output := BuildOutput{
		ContextText: strings.Join(parts, "\n\n"),
		Chunks:      selected,
		TokenCount:  totalTokens,
		Truncated:   len(selected) < len(chunks) || totalTokens < estimateTokens(input.Text)/2,
	}
	b.cachePut(cacheKey, output)
	return cloneBuildOutput(output), nil
}

func normalizeBuildInput(input BuildInput) BuildInput {
	task := strings.ToLower(strings.TrimSpace(input.Task))
	if input.MaxInputTokens <= 0 {
		switch task {
		case "structure":
			input.MaxInputTokens = 3000
		case "appeal":
			input.MaxInputTokens = 2500
		default:
			input.MaxInputTokens = 2000
		}
	}
	if input.MaxChunks <= 0 {
		input.MaxChunks = 24
	}
	input.Task = task
	return input
}

func buildCacheKey(input BuildInput) uint64 {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(input.Task))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(strings.Join(input.Keywords, ",")))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(fmt.Sprintf("%d|%d", input.MaxInputTokens, input.MaxChunks)))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(input.Text))
	return hash.Sum64()
}

func (b *Builder) cacheGet(key uint64) (BuildOutput, bool) {
	b.cacheMu.RLock()
	entry, exists := b.cache[key]
	b.cacheMu.RUnlock()
	if !exists {
		return BuildOutput{}, false
	}
	if time.Now().After(entry.expiresAt) {
		b.cacheMu.Lock()
		delete(b.cache, key)
		b.cacheMu.Unlock()
		return BuildOutput{}, false
	}
	return entry.output, true
}

func (b *Builder) cachePut(key uint64, output BuildOutput) {
	if b.cacheLimit <= 0 {
		return
	}

	now := time.Now()
	entry := cachedBuild{
		output:    cloneBuildOutput(output),
		expiresAt: now.Add(b.cacheTTL),
	}

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if len(b.cache) >= b.cacheLimit {
		for cacheKey, cacheEntry := range b.cache {
			if now.After(cacheEntry.expiresAt) {
				delete(b.cache, cacheKey)
			}
		}
	}
	if len(b.cache) >= b.cacheLimit {
		var (
			oldestKey uint64
			oldestTS  time.Time
			first     = true
		)
		for cacheKey, cacheEntry := range b.cache {
			if first || cacheEntry.expiresAt.Before(oldestTS) {
				first = false
				oldestKey = cacheKey
				oldestTS = cacheEntry.expiresAt
			}
		}
		if !first {
			delete(b.cache, oldestKey)
		}
	}
	b.cache[key] = entry
}

func cloneBuildOutput(value BuildOutput) BuildOutput {
	cloned := value
	cloned.Chunks = append([]Chunk(nil), value.Chunks...)
	return cloned
}

func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return max(len([]rune(trimmed))/4, 1)
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
