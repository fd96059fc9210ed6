package rag

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/schema"
)

// Match is a retrieved chunk with its cosine similarity to the question.
type Match struct {
	Chunk      int
	Page       string
	Content    string
	Similarity float32
}

// index is an in-memory nearest-neighbour collection over the chunks of one
// document. It lives for a single question.
type index struct {
	col *chromem.Collection
}

func buildIndex(ctx context.Context, chunks []schema.Document, vectors [][]float32, embedQuery chromem.EmbeddingFunc) (*index, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection(uuid.NewString(), nil, embedQuery)
	if err != nil {
		return nil, fmt.Errorf("index: create collection: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		meta := map[string]string{"chunk": strconv.Itoa(i)}
		if p, ok := c.Metadata["page"]; ok {
			meta["page"] = fmt.Sprint(p)
		}
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   c.PageContent,
			Metadata:  meta,
			Embedding: vectors[i],
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("index: add chunks: %w", err)
	}
	return &index{col: col}, nil
}

// search returns at most k chunks, most similar first.
func (ix *index) search(ctx context.Context, question string, k int) ([]Match, error) {
	k = min(k, ix.col.Count())
	if k <= 0 {
		return nil, nil
	}
	res, err := ix.col.Query(ctx, question, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}

	matches := make([]Match, len(res))
	for i, r := range res {
		chunk, _ := strconv.Atoi(r.Metadata["chunk"])
		matches[i] = Match{
			Chunk:      chunk,
			Page:       r.Metadata["page"],
			Content:    r.Content,
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}
