// Package symptoms implements the optional symptom-vector search
// enrichment step of the Clinical Extractor.
// Absence of a configured store is not an error: the clinical subgraph
// simply proceeds with no symptom matches.
package symptoms

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	sharedmath "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/math"
)

// DefaultThreshold is the minimum cosine similarity a candidate symptom
// must clear to be attached to a clinical commit.
const DefaultThreshold = 0.80

// Embedder turns free text into a fixed-length vector. BagOfWordsEmbedder
// is the only implementation in this repository.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// candidate is one row fetched from the symptom_vector table.
type candidate struct {
	description string
	embedding   []float64
}

// Matcher searches a pgvector-backed symptom table for descriptions
// similar to a free-text note.
type Matcher struct {
	pool      *pgxpool.Pool
	embedder  Embedder
	threshold float64
	log       *logrus.Logger
}

// NewMatcher builds a Matcher. pool may be nil, in which case Match
// always returns no matches without error — the "optional collaborator"
// contract.
func NewMatcher(pool *pgxpool.Pool, embedder Embedder, threshold float64, log *logrus.Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{pool: pool, embedder: embedder, threshold: threshold, log: log}
}

// Match embeds note and returns every symptom_vector row whose cosine
// similarity clears the configured threshold, as backend.SymptomReport
// entries ready to attach to a clinical commit payload.
func (m *Matcher) Match(ctx context.Context, note string) ([]backend.SymptomReport, error) {
	if m.pool == nil || note == "" {
		return nil, nil
	}

	queryVector, err := m.embedder.Embed(ctx, note)
	if err != nil {
		m.log.WithError(err).Warn("symptom embedding failed, skipping enrichment")
		return nil, nil
	}

	rows, err := m.pool.Query(ctx, `SELECT description, embedding FROM symptom_vector`)
	if err != nil {
		m.log.WithError(err).Warn("symptom candidate query failed, skipping enrichment")
		return nil, nil
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		var raw []float32
		if err := rows.Scan(&c.description, &raw); err != nil {
			continue
		}
		c.embedding = toFloat64(raw)
		candidates = append(candidates, c)
	}

	return m.bestMatches(queryVector, candidates), nil
}

func (m *Matcher) bestMatches(query []float64, candidates []candidate) []backend.SymptomReport {
	var matches []backend.SymptomReport
	for _, c := range candidates {
		if sharedmath.CosineSimilarity(query, c.embedding) >= m.threshold {
			matches = append(matches, backend.SymptomReport{Description: c.description})
		}
	}
	return matches
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// BagOfWordsEmbedder is a pure-Go Embedder with no external dependency,
// used in unit tests and by cmd/orchestrator. It hashes words into a small
// fixed-width vector, which is enough to exercise CosineSimilarity's
// matching behavior without a live model.
type BagOfWordsEmbedder struct {
	Dimensions int
}

// NewBagOfWordsEmbedder builds a BagOfWordsEmbedder with the given vector
// width.
func NewBagOfWordsEmbedder(dimensions int) *BagOfWordsEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &BagOfWordsEmbedder{Dimensions: dimensions}
}

// Embed implements Embedder.
func (b *BagOfWordsEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, b.Dimensions)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		vec[hashRunes(word)%b.Dimensions]++
		word = word[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return vec, nil
}

func hashRunes(word []rune) int {
	h := 2166136261
	for _, r := range word {
		h = (h ^ int(r)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}
