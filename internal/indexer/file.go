package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/discover"
	"github.com/hyperjump/codeingest/internal/fileid"
	"github.com/hyperjump/codeingest/internal/models"
)

// pass carries the values fixed for one run.
type pass struct {
	idx        *Indexer
	repoState  string
	gitStyle   bool
	ingestedAt time.Time
	logger     *zap.Logger
}

// fileResult is the outcome of processing one file.
type fileResult struct {
	path          string
	pairs         []models.BulkPair
	skipped       bool
	embedFailures int
	dropped       int
}

// file reads, chunks, identifies, and optionally embeds one file. A read
// failure marks the file skipped; it never fails the run.
func (p *pass) file(ctx context.Context, f discover.File) fileResult {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		p.logger.Warn("skipping unreadable file",
			zap.String("path", f.RelPath),
			zap.Error(fmt.Errorf("%w: %v", models.ErrReadFailure, err)))
		return fileResult{path: f.RelPath, skipped: true}
	}

	blobState := fileid.BlobState(content, p.gitStyle)
	language := DetectLanguage(f.RelPath)
	chunks := p.idx.chunker.Chunk(SplitLines(string(content)))
	res := fileResult{path: f.RelPath, pairs: make([]models.BulkPair, 0, len(chunks))}
	required := p.idx.submitter.Backend().RequiresEmbeddings()

	for _, ch := range chunks {
		doc := &models.ChunkDocument{
			ID:         fileid.ChunkID(p.repoState, f.RelPath, ch.Start, blobState),
			RepoState:  p.repoState,
			Path:       f.RelPath,
			Language:   language,
			StartLine:  ch.Start,
			EndLine:    ch.End,
			BlobState:  blobState,
			IngestedAt: p.ingestedAt,
			Content:    ch.Content,
		}
		if p.idx.adapter.Available() {
			vec, err := p.idx.adapter.Encode(ctx, ch.Content)
			switch {
			case err == nil:
				doc.Embedding = vec
			case required:
				// The backend would reject the whole batch over this pair.
				res.embedFailures++
				res.dropped++
				p.logger.Warn("dropping chunk without embedding",
					zap.String("path", f.RelPath),
					zap.Int("start_line", ch.Start),
					zap.Error(err))
				continue
			default:
				res.embedFailures++
				p.logger.Warn("indexing chunk without embedding",
					zap.String("path", f.RelPath),
					zap.Int("start_line", ch.Start),
					zap.Error(err))
			}
		}
		res.pairs = append(res.pairs, models.NewBulkPair(p.idx.cfg.Index, doc))
	}
	p.logger.Debug("file chunked",
		zap.String("path", f.RelPath),
		zap.String("language", language),
		zap.Int("chunks", len(chunks)))
	return res
}
