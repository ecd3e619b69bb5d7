package index

import (
	"context"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// Status is the index_status surface: row counts, embedding coverage,
// and the last job.
type Status struct {
	Repo       string         `json:"repo"`
	Files      int            `json:"files"`
	Spans      int            `json:"spans"`
	Chunks     int            `json:"chunks"`
	References int            `json:"references"`
	Embeddings map[string]int `json:"embeddings,omitempty"`
	Running    bool           `json:"running"`
	LastJob    *JobSummary    `json:"last_job,omitempty"`
}

// JobSummary is the serializable view of a job row.
type JobSummary struct {
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Status reports the index state for one repo.
func (ix *Indexer) Status(ctx context.Context, repo string) (*Status, error) {
	const op = "index.Status"

	files, err := ix.store.ListFiles(ctx, repo)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	spans, err := ix.store.CountSpans(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	chunks, err := ix.store.CountChunks(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	refs, err := ix.store.CountReferences(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	st := &Status{
		Repo:       repo,
		Files:      len(files),
		Spans:      spans,
		Chunks:     chunks,
		References: refs,
	}

	models, err := ix.store.EmbeddingModels(ctx)
	if err == nil && len(models) > 0 {
		st.Embeddings = make(map[string]int, len(models))
		for _, m := range models {
			if n, err := ix.store.CountEmbeddings(ctx, m); err == nil {
				st.Embeddings[m] = n
			}
		}
	}

	if active, err := ix.store.ActiveJob(ctx, jobKind); err == nil && active != nil {
		st.Running = true
	}
	if last, err := ix.store.LatestJob(ctx, jobKind); err == nil && last != nil {
		st.LastJob = &JobSummary{
			Status:     last.Status,
			Error:      last.Error,
			StartedAt:  last.StartedAt,
			FinishedAt: last.FinishedAt,
		}
	}
	return st, nil
}
