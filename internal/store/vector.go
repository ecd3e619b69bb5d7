package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gobwas/glob"

	"github.com/pampax/pampax/internal/errors"
)

// ANNResult is one approximate-nearest-neighbor match.
type ANNResult struct {
	ChunkID string
	// Score is cosine similarity mapped to [0, 1]; higher is better.
	Score float64
}

// vectorIndex is one in-memory HNSW graph per embedding model, built
// lazily from the embedding table.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dim     int
	// orphans counts replaced nodes still present in the graph; search
	// over-fetches by this amount so skipped orphans don't starve k.
	orphans int
}

func newVectorIndex(dim int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.Ml = 0.25
	graph.EfSearch = 20

	return &vectorIndex{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		dim:    dim,
	}
}

// add inserts or replaces one vector. Replacement orphans the old
// graph node; lookups skip orphans via the key map.
func (v *vectorIndex) add(id string, vec []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.idMap[id]; ok {
		delete(v.keyMap, existing)
		delete(v.idMap, id)
		v.orphans++
	}

	key := v.nextKey
	v.nextKey++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	v.graph.Add(hnsw.MakeNode(key, normalized))
	v.idMap[id] = key
	v.keyMap[key] = id
}

// search returns up to k matches by cosine similarity.
func (v *vectorIndex) search(query []float32, k int) []*ANNResult {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := v.graph.Search(normalized, k+v.orphans)
	results := make([]*ANNResult, 0, k)
	for _, node := range nodes {
		if len(results) == k {
			break
		}
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := v.graph.Distance(normalized, node.Value)
		results = append(results, &ANNResult{
			ChunkID: id,
			// Cosine distance ranges 0..2; map onto 1..0.
			Score: 1.0 - float64(distance)/2.0,
		})
	}
	return results
}

func (v *vectorIndex) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph = nil
	v.idMap = nil
	v.keyMap = nil
}

// UpsertEmbedding stores a vector for (chunk, model) and keeps any
// built ANN index in sync. Vector dimensions must match previously
// stored vectors for the same model.
func (s *Store) UpsertEmbedding(ctx context.Context, chunkID, model string, vec []float32) error {
	const op = "store.UpsertEmbedding"
	if len(vec) == 0 {
		return errors.E(errors.KindInvalidInput, op, "empty vector", nil)
	}

	if dim, err := s.modelDim(ctx, model); err != nil {
		return err
	} else if dim > 0 && dim != len(vec) {
		return errors.E(errors.KindInvalidInput, op, "vector dimension mismatch", nil).
			WithDetail("model", model).
			WithDetail("expected", fmt.Sprintf("%d", dim)).
			WithDetail("got", fmt.Sprintf("%d", len(vec)))
	}

	err := s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding (chunk_id, model, dim, vector, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id, model) DO UPDATE SET
				dim        = excluded.dim,
				vector     = excluded.vector,
				created_at = excluded.created_at
		`, chunkID, model, len(vec), encodeVector(vec), s.now().Unix())
		return err
	})
	if err != nil {
		return err
	}

	s.vectorsMu.RLock()
	idx, ok := s.vectors[model]
	s.vectorsMu.RUnlock()
	if ok {
		idx.add(chunkID, vec)
	}
	return nil
}

// EmbeddingModels lists the models that have stored vectors.
func (s *Store) EmbeddingModels(ctx context.Context) ([]string, error) {
	const op = "store.EmbeddingModels"
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT model FROM embedding ORDER BY model`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, classify(op, err)
		}
		models = append(models, m)
	}
	return models, classify(op, rows.Err())
}

// CountEmbeddings returns the stored vector count for a model.
func (s *Store) CountEmbeddings(ctx context.Context, model string) (int, error) {
	const op = "store.CountEmbeddings"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding WHERE model = ?`, model).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// ANNSearch returns the top-k chunks by cosine similarity for the
// given model. With no stored vectors the result is empty, not an
// error. If the HNSW index cannot be built, search falls back to a
// brute-force scan over the (filtered) embedding rows.
func (s *Store) ANNSearch(ctx context.Context, queryVec []float32, model string, k int, filter *SearchFilter) ([]*ANNResult, error) {
	const op = "store.ANNSearch"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	if len(queryVec) == 0 {
		return nil, errors.E(errors.KindInvalidInput, op, "empty query vector", nil)
	}

	total, err := s.CountEmbeddings(ctx, model)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []*ANNResult{}, nil
	}

	idx, err := s.vectorIndexFor(ctx, model)
	if err != nil {
		s.log.Warn("ann_index_unavailable",
			"model", model,
			"error", err.Error())
		return s.bruteForceSearch(ctx, queryVec, model, k, filter)
	}
	if idx.dim != len(queryVec) {
		return nil, errors.E(errors.KindInvalidInput, op, "query vector dimension mismatch", nil).
			WithDetail("expected", fmt.Sprintf("%d", idx.dim)).
			WithDetail("got", fmt.Sprintf("%d", len(queryVec)))
	}

	// Over-fetch when filtering so the post-filter cut still fills k.
	fetch := k
	if filter != nil && (filter.Repo != "" || filter.PathGlob != "" || filter.Language != "") {
		fetch = k * 4
	}

	results := idx.search(queryVec, fetch)
	results, err = s.applyChunkFilter(ctx, results, filter)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// vectorIndexFor returns the ANN index for a model, building it from
// the embedding table on first use.
func (s *Store) vectorIndexFor(ctx context.Context, model string) (*vectorIndex, error) {
	const op = "store.vectorIndexFor"

	s.vectorsMu.RLock()
	idx, ok := s.vectors[model]
	s.vectorsMu.RUnlock()
	if ok {
		return idx, nil
	}

	s.vectorsMu.Lock()
	defer s.vectorsMu.Unlock()
	if idx, ok := s.vectors[model]; ok {
		return idx, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, dim, vector FROM embedding WHERE model = ? ORDER BY chunk_id`, model)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var built *vectorIndex
	for rows.Next() {
		var chunkID string
		var dim int
		var blob []byte
		if err := rows.Scan(&chunkID, &dim, &blob); err != nil {
			return nil, classify(op, err)
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return nil, errors.E(errors.KindIntegrity, op, "corrupt vector blob", err).
				WithDetail("chunk_id", chunkID)
		}
		if built == nil {
			built = newVectorIndex(dim)
		}
		built.add(chunkID, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	if built == nil {
		built = newVectorIndex(0)
	}

	s.vectors[model] = built
	s.log.Debug("ann_index_built", "model", model, "vectors", len(built.idMap))
	return built, nil
}

// bruteForceSearch scans every stored vector for the model and ranks
// by cosine similarity.
func (s *Store) bruteForceSearch(ctx context.Context, queryVec []float32, model string, k int, filter *SearchFilter) ([]*ANNResult, error) {
	const op = "store.bruteForceSearch"

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, dim, vector FROM embedding WHERE model = ?`, model)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	qn := make([]float32, len(queryVec))
	copy(qn, queryVec)
	normalizeInPlace(qn)

	var all []*ANNResult
	for rows.Next() {
		var chunkID string
		var dim int
		var blob []byte
		if err := rows.Scan(&chunkID, &dim, &blob); err != nil {
			return nil, classify(op, err)
		}
		if dim != len(queryVec) {
			continue
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			continue
		}
		normalizeInPlace(vec)
		all = append(all, &ANNResult{
			ChunkID: chunkID,
			Score:   (dot(qn, vec) + 1.0) / 2.0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	all, err = s.applyChunkFilter(ctx, all, filter)
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ChunkID < all[j].ChunkID
	})
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// applyChunkFilter drops results whose chunks do not satisfy the
// filter. A nil or empty filter passes everything through.
func (s *Store) applyChunkFilter(ctx context.Context, results []*ANNResult, filter *SearchFilter) ([]*ANNResult, error) {
	if filter == nil || (filter.Repo == "" && filter.PathGlob == "" && filter.Language == "") {
		return results, nil
	}
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := s.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	langByPath := map[string]string{}
	if filter.Language != "" {
		for _, c := range chunks {
			f, err := s.FileByPath(ctx, c.Repo, c.Path)
			if err != nil {
				if errors.IsKind(err, errors.KindNotFound) {
					continue
				}
				return nil, err
			}
			langByPath[c.Repo+"\x00"+c.Path] = f.Lang
		}
	}

	var kept []*ANNResult
	for _, r := range results {
		c, ok := chunks[r.ChunkID]
		if !ok {
			continue
		}
		if filter.Repo != "" && c.Repo != filter.Repo {
			continue
		}
		if filter.PathGlob != "" && !globMatch(filter.PathGlob, c.Path) {
			continue
		}
		if filter.Language != "" && langByPath[c.Repo+"\x00"+c.Path] != filter.Language {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

// invalidateVectors drops all built ANN indexes; they rebuild lazily
// on the next search. Called after destructive writes.
func (s *Store) invalidateVectors() {
	s.vectorsMu.Lock()
	defer s.vectorsMu.Unlock()
	for _, idx := range s.vectors {
		idx.close()
	}
	s.vectors = make(map[string]*vectorIndex)
}

// globMatch mirrors the GLOB operator used by the FTS path filter:
// * matches any run of characters including separators.
func globMatch(pattern, path string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return pattern == path
	}
	return g.Match(path)
}

// modelDim returns the stored dimension for a model, 0 when no vectors
// exist yet.
func (s *Store) modelDim(ctx context.Context, model string) (int, error) {
	const op = "store.modelDim"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dim FROM embedding WHERE model = ? LIMIT 1`, model).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classify(op, err)
	}
	return dim, nil
}

// encodeVector packs float32 values little-endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("blob length %d does not match dim %d", len(blob), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// dot is the inner product of two equal-length vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
