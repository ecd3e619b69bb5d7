package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/parse"
	"github.com/pampax/pampax/internal/scanner"
)

// fileResult is one parsed file on its way to the writer.
type fileResult struct {
	file      *bundle.File
	spans     []*bundle.Span
	chunks    []*bundle.Chunk
	refs      []parse.RawRef
	unchanged bool
}

// parseFile reads and parses one file, short-circuiting when the
// stored content hash already matches.
func (ix *Indexer) parseFile(ctx context.Context, p *parse.Parser, repo string, f *scanner.FileInfo) (*fileResult, error) {
	const op = "index.parseFile"

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}
	hash := bundle.HashBytes(content)

	prev, err := ix.store.FileByPath(ctx, repo, f.Path)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	file := &bundle.File{
		Repo:        repo,
		Path:        f.Path,
		ContentHash: hash,
		Lang:        f.Lang,
		Size:        f.Size,
		IndexedAt:   time.Now(),
	}
	if prev != nil && prev.ContentHash == hash {
		return &fileResult{file: file, unchanged: true}, nil
	}

	res, err := p.File(ctx, parse.FileInput{
		Repo:    repo,
		Path:    f.Path,
		Lang:    f.Lang,
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	if res.Lang != "" {
		file.Lang = res.Lang
	}
	return &fileResult{
		file:   file,
		spans:  res.Spans,
		chunks: res.Chunks,
		refs:   res.Refs,
	}, nil
}

// writeFile replaces a file's rows. Old spans cascade their chunks,
// embeddings, and outgoing references.
func (ix *Indexer) writeFile(ctx context.Context, res *fileResult) error {
	const op = "index.writeFile"
	repo, path := res.file.Repo, res.file.Path

	if err := ix.store.DeleteSpansByPath(ctx, repo, path); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	if _, err := ix.symbols.RemovePath(ctx, repo, path); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}

	if len(res.spans) > 0 {
		if err := ix.store.BulkUpsertSpans(ctx, res.spans); err != nil {
			return errors.Wrap(errors.KindOf(err), op, err)
		}
		if err := ix.symbols.AddSpans(ctx, res.spans); err != nil {
			return errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	if len(res.chunks) > 0 {
		if err := ix.store.BulkUpsertChunks(ctx, res.chunks); err != nil {
			return errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	if err := ix.store.UpsertFile(ctx, res.file); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return nil
}

// embedPending embeds every chunk still missing a vector for the
// active model. Restart-safe: the query only returns unembedded
// chunks, so an interrupted run resumes at the first missing one.
func (ix *Indexer) embedPending(ctx context.Context) (int, error) {
	const op = "index.embedPending"
	if ix.embedder == nil {
		return 0, nil
	}
	if !ix.embedder.Available(ctx) {
		return 0, errors.E(errors.KindUnavailable, op, "embedder is not available", nil)
	}
	model := ix.embedder.ModelName()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return total, errors.Wrap(errors.KindCancelled, op, ctx.Err())
		default:
		}
		chunks, err := ix.store.NeedingEmbedding(ctx, model, embed.DefaultBatchSize, 0)
		if err != nil {
			return total, errors.Wrap(errors.KindOf(err), op, err)
		}
		if len(chunks) == 0 {
			return total, nil
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, errors.Wrap(errors.KindOf(err), op, err)
		}
		for i, c := range chunks {
			if err := ix.store.UpsertEmbedding(ctx, c.ID, model, vecs[i]); err != nil {
				return total, errors.Wrap(errors.KindOf(err), op, err)
			}
			total++
		}
		ix.report(Progress{Stage: "embed", Done: total})
	}
}

// IndexFiles re-indexes specific paths, used by the watcher for
// incremental updates. Missing paths are treated as deletions.
func (ix *Indexer) IndexFiles(ctx context.Context, root, repo string, paths []string) (*Stats, error) {
	const op = "index.IndexFiles"
	start := time.Now()
	if repo == "" {
		repo = filepath.Base(root)
	}

	unlock, err := ix.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	p := parse.New()
	defer p.Close()

	stats := &Stats{}
	var rawRefs []parse.RawRef
	for _, rel := range paths {
		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				if err := ix.deletePath(ctx, repo, rel); err != nil {
					return nil, err
				}
				stats.FilesRemoved++
				continue
			}
			return nil, errors.Wrap(errors.KindInternal, op, err)
		}
		if info.IsDir() {
			continue
		}

		res, err := ix.parseFile(ctx, p, repo, &scanner.FileInfo{
			Path:    rel,
			AbsPath: abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Lang:    scanner.DetectLang(rel),
		})
		if err != nil {
			return nil, err
		}
		stats.FilesSeen++
		if res.unchanged {
			continue
		}
		if err := ix.writeFile(ctx, res); err != nil {
			return nil, err
		}
		stats.FilesIndexed++
		stats.Spans += len(res.spans)
		stats.Chunks += len(res.chunks)
		rawRefs = append(rawRefs, res.refs...)
	}

	refs, err := ix.resolveRefs(ctx, repo, rawRefs)
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		if err := ix.store.BulkUpsertReferences(ctx, refs); err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	stats.References = len(refs)

	if embedded, err := ix.embedPending(ctx); err != nil {
		ix.log.Warn("embed_stage_failed", slog.Any("error", err))
	} else {
		stats.Embedded = embedded
	}

	stats.Duration = time.Since(start)
	return stats, nil
}
