package rag

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// LoadPDF reads the PDF at path page by page and splits every page with
// splitter. Chunks keep their page number in the "page" metadata key.
func LoadPDF(ctx context.Context, path string, splitter textsplitter.TextSplitter) (chunks []schema.Document, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentLoad, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentLoad, err)
	}

	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			chunks = nil
			err = fmt.Errorf("%w: malformed pdf: %v", ErrDocumentLoad, r)
		}
	}()

	chunks, err = documentloaders.NewPDF(f, stat.Size()).LoadAndSplit(ctx, splitter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentLoad, err)
	}
	return chunks, nil
}
