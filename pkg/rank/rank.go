// Package rank scores stored records against a query vector by cosine
// similarity. It is a plain O(n·d) scan over the records that carry an
// embedding, optionally scoped to a folder; callers cap n by folder scope
// when scale demands, there is no approximate index.
package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/docket-io/docket/internal/telemetry"
	"github.com/docket-io/docket/pkg/docstore"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// RecordSource is the slice of the record store the ranker reads. The
// docstore.Store satisfies it.
type RecordSource interface {
	// List returns the ids in a folder, or all ids when folder is empty
	// and recursive is true.
	List(ctx context.Context, folder string, recursive bool) ([]string, error)

	// Get returns the record for an id.
	Get(ctx context.Context, id string) (*docstore.Record, error)

	// EmbeddingDim returns the store-wide embedding dimensionality, 0 when
	// no embedding has been written yet.
	EmbeddingDim() int
}

// Query describes one ranking request.
type Query struct {
	// Vector is the query embedding. Its length must match the store's
	// embedding dimensionality.
	Vector []float32

	// K is the maximum number of results. Fewer are returned when fewer
	// records match.
	K int

	// Folder scopes the scan to one folder; empty means the whole store.
	Folder string

	// Recursive extends a folder scope to its subtree.
	Recursive bool
}

// Result is one ranked record.
type Result struct {
	// ID is the record id.
	ID string `json:"id"`

	// Score is the cosine similarity in [-1, 1].
	Score float32 `json:"score"`
}

// Ranker scans a record source and ranks records by cosine similarity.
type Ranker struct {
	source RecordSource
}

// New creates a ranker over the given record source.
func New(source RecordSource) *Ranker {
	return &Ranker{source: source}
}

// Rank returns the top q.K records by cosine similarity against q.Vector,
// ties broken by most-recent updated_at then ascending id. Records without
// an embedding are not candidates.
func (r *Ranker) Rank(ctx context.Context, q Query) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", q.K)
	}
	if dim := r.source.EmbeddingDim(); dim > 0 && len(q.Vector) != dim {
		return nil, fmt.Errorf("query vector has %d dimensions, store is fixed at %d", len(q.Vector), dim)
	}

	folder := q.Folder
	recursive := q.Recursive
	if folder == "" {
		recursive = true
	}

	ctx, span := telemetry.StartRankSpan(ctx, "search",
		telemetry.QueryDims(len(q.Vector)),
		telemetry.QueryLimit(q.K))
	defer span.End()

	ids, err := r.source.List(ctx, folder, recursive)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	type hit struct {
		id        string
		score     float32
		updatedAt time.Time
	}

	hits := make([]hit, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, dserrors.NewCancelledError(err)
		}

		rec, err := r.source.Get(ctx, id)
		if err != nil {
			// A record deleted between List and Get is not an error,
			// it is simply no longer a candidate.
			if dserrors.IsNotFoundError(err) {
				continue
			}
			telemetry.RecordError(ctx, err)
			return nil, err
		}

		if len(rec.Embedding) != len(q.Vector) {
			continue
		}

		hits = append(hits, hit{
			id:        rec.ID,
			score:     cosine(q.Vector, rec.Embedding),
			updatedAt: rec.UpdatedAt,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].updatedAt.Equal(hits[j].updatedAt) {
			return hits[i].updatedAt.After(hits[j].updatedAt)
		}
		return hits[i].id < hits[j].id
	})

	k := q.K
	if k > len(hits) {
		k = len(hits)
	}

	results := make([]Result, 0, k)
	for i := 0; i < k; i++ {
		results = append(results, Result{ID: hits[i].id, Score: hits[i].score})
	}
	return results, nil
}

// cosine computes the cosine similarity of two equal-length vectors. A
// zero-norm vector scores 0 against everything.
func cosine(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}
