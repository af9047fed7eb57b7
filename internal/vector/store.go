package vector

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite"

	"github.com/lodekb/lodestone/internal/errors"
)

// HybridStore implements Store with a coder/hnsw graph for dense
// retrieval and SQLite FTS5 for sparse retrieval. Payloads live in a
// plain table so filters evaluate in SQL.
type HybridStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	db     *sql.DB
	config Config

	// External point id <-> internal graph key. Deletion is lazy: the
	// node stays in the graph, the mapping disappears.
	idMap   map[uint64]uint64
	keyMap  map[uint64]uint64
	nextKey uint64

	basePath string
	closed   bool
}

var _ Store = (*HybridStore)(nil)

type graphMetadata struct {
	IDMap   map[uint64]uint64
	NextKey uint64
	Config  Config
}

// New opens a hybrid store rooted at basePath: the dense graph at
// basePath, its id mappings at basePath+".meta", and the payload
// database at basePath+".db". An empty basePath keeps everything in
// memory, for tests.
func New(cfg Config, basePath string) (*HybridStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.6
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	dsn := ":memory:"
	if basePath != "" {
		if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
			return nil, fmt.Errorf("create vector directory: %w", err)
		}
		dsn = basePath + ".db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "open payload database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "set pragma")
		}
	}

	s := &HybridStore{
		graph:    graph,
		db:       db,
		config:   cfg,
		idMap:    make(map[uint64]uint64),
		keyMap:   make(map[uint64]uint64),
		basePath: basePath,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "initialize vector schema")
	}
	if basePath != "" {
		if _, err := os.Stat(basePath); err == nil {
			if err := s.load(); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("load dense index: %w", err)
			}
		}
	}
	return s, nil
}

func (s *HybridStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS points (
		id INTEGER PRIMARY KEY,
		file_path TEXT NOT NULL,
		folder_path TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		file_mime TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_points_file ON points(file_path);
	CREATE INDEX IF NOT EXISTS idx_points_folder ON points(folder_path);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_points USING fts5(
		point_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or replaces points by id. The sparse side is indexed
// from the payload text with the shared tokenizer.
func (s *HybridStore) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}

	for _, p := range points {
		if len(p.Dense) != s.config.Dimensions {
			return fmt.Errorf("dimension mismatch: expected %d, got %d", s.config.Dimensions, len(p.Dense))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "upsert points")
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO points (id, file_path, folder_path, ordinal, text, token_count, file_mime)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			int64(p.ID), p.Payload.FilePath, p.Payload.FolderPath, p.Payload.Ordinal,
			p.Payload.Text, p.Payload.TokenCount, p.Payload.FileMIME)
		if err != nil {
			return errors.Wrap(err, errors.KindStoreUnavailable, "upsert payload")
		}
		// FTS5 has no REPLACE; delete then insert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_points WHERE point_id = ?`, int64(p.ID)); err != nil {
			return errors.Wrap(err, errors.KindStoreUnavailable, "clear sparse entry")
		}
		content := strings.Join(Tokenize(p.Payload.Text), " ")
		if _, err := tx.ExecContext(ctx, `INSERT INTO fts_points (point_id, content) VALUES (?, ?)`,
			int64(p.ID), content); err != nil {
			return errors.Wrap(err, errors.KindStoreUnavailable, "index sparse entry")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "commit points")
	}

	for _, p := range points {
		if oldKey, exists := s.idMap[p.ID]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, p.ID)
		}
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Dense))
		copy(vec, p.Dense)
		normalizeInPlace(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID
	}
	return nil
}

// DeleteByFilter removes every point the filter matches and returns
// how many were removed. Graph nodes are deleted lazily.
func (s *HybridStore) DeleteByFilter(ctx context.Context, f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}

	where, args := f.whereClause()
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM points `+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "select points to delete")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, errors.Wrap(err, errors.KindStoreUnavailable, "scan point id")
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "iterate point ids")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "delete points")
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE id = ?`, id); err != nil {
			return 0, errors.Wrap(err, errors.KindStoreUnavailable, "delete payload")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_points WHERE point_id = ?`, id); err != nil {
			return 0, errors.Wrap(err, errors.KindStoreUnavailable, "delete sparse entry")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.KindStoreUnavailable, "commit delete")
	}

	for _, id := range ids {
		if key, exists := s.idMap[uint64(id)]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, uint64(id))
		}
	}
	return len(ids), nil
}

// Query runs hybrid retrieval and returns the top k fused results.
func (s *HybridStore) Query(ctx context.Context, dense []float32, sparse string, k int, alpha float64, f Filter) ([]*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}
	if k <= 0 {
		return nil, nil
	}
	if alpha < 0 {
		alpha = s.config.Alpha
	}
	if alpha > 1 {
		alpha = 1
	}

	// Oversample both sides so filtering and fusion still fill k.
	candidateK := k * 4
	if candidateK < 20 {
		candidateK = 20
	}

	denseScores, err := s.denseSearch(ctx, dense, candidateK, f)
	if err != nil {
		return nil, err
	}
	sparseScores, payloads, err := s.sparseSearch(ctx, sparse, candidateK, f)
	if err != nil {
		return nil, err
	}

	// Fetch payloads for dense-only candidates.
	var missing []uint64
	for id := range denseScores {
		if _, ok := payloads[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := s.fetchPayloads(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, pl := range fetched {
			payloads[id] = pl
		}
	}

	results := make([]*QueryResult, 0, len(payloads))
	for id, pl := range payloads {
		ds := denseScores[id]
		ss := sparseScores[id]
		results = append(results, &QueryResult{
			ID:      id,
			Score:   alpha*ds + (1-alpha)*ss,
			Dense:   ds,
			Sparse:  ss,
			Payload: pl,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// denseSearch returns cosine similarity scores, filtered. Lazy-deleted
// graph nodes fall out because they no longer map to a point id.
func (s *HybridStore) denseSearch(ctx context.Context, query []float32, k int, f Filter) (map[uint64]float64, error) {
	scores := make(map[uint64]float64)
	if len(query) == 0 || s.graph.Len() == 0 {
		return scores, nil
	}
	if len(query) != s.config.Dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", s.config.Dimensions, len(query))
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := s.graph.Search(normalized, k)
	var ids []uint64
	raw := make(map[uint64]float64, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		dist := s.graph.Distance(normalized, node.Value)
		raw[id] = 1.0 - float64(dist)/2.0
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return scores, nil
	}

	allowed, err := s.filterIDs(ctx, ids, f)
	if err != nil {
		return nil, err
	}
	for id := range allowed {
		scores[id] = raw[id]
	}
	return scores, nil
}

// sparseSearch returns bm25 scores normalized to [0,1] along with the
// matching payloads.
func (s *HybridStore) sparseSearch(ctx context.Context, query string, k int, f Filter) (map[uint64]float64, map[uint64]Payload, error) {
	scores := make(map[uint64]float64)
	payloads := make(map[uint64]Payload)

	match := matchQuery(query)
	if match == "" {
		return scores, payloads, nil
	}

	where, args := f.whereClause()
	cond := "WHERE fts_points MATCH ?"
	if where != "" {
		cond += " AND " + strings.TrimPrefix(where, "WHERE ")
	}
	queryArgs := append([]any{match}, args...)
	queryArgs = append(queryArgs, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.file_path, p.folder_path, p.ordinal, p.text, p.token_count, p.file_mime,
			bm25(fts_points) AS score
		FROM fts_points
		JOIN points p ON p.id = fts_points.point_id
		`+cond+`
		ORDER BY score LIMIT ?`, queryArgs...)
	if err != nil {
		// FTS5 rejects some inputs as syntax errors; treat as no hits.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return scores, payloads, nil
		}
		return nil, nil, errors.Wrap(err, errors.KindStoreUnavailable, "sparse search")
	}
	defer rows.Close()

	type hit struct {
		id    uint64
		score float64
	}
	var hits []hit
	for rows.Next() {
		var id int64
		var pl Payload
		var score float64
		if err := rows.Scan(&id, &pl.FilePath, &pl.FolderPath, &pl.Ordinal, &pl.Text, &pl.TokenCount, &pl.FileMIME, &score); err != nil {
			return nil, nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan sparse hit")
		}
		// bm25() is negative; lower is better.
		hits = append(hits, hit{id: uint64(id), score: -score})
		payloads[uint64(id)] = pl
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.KindStoreUnavailable, "iterate sparse hits")
	}

	var maxScore float64
	for _, h := range hits {
		if h.score > maxScore {
			maxScore = h.score
		}
	}
	for _, h := range hits {
		if maxScore > 0 {
			scores[h.id] = h.score / maxScore
		} else {
			scores[h.id] = 0
		}
	}
	return scores, payloads, nil
}

// filterIDs returns the subset of ids that satisfy the filter.
func (s *HybridStore) filterIDs(ctx context.Context, ids []uint64, f Filter) (map[uint64]struct{}, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, int64(id))
	}
	cond := fmt.Sprintf("WHERE id IN (%s)", strings.Join(placeholders, ","))
	where, filterArgs := f.whereClause()
	if where != "" {
		cond += " AND " + strings.TrimPrefix(where, "WHERE ")
		args = append(args, filterArgs...)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM points `+cond, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "filter candidates")
	}
	defer rows.Close()

	out := make(map[uint64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan candidate")
		}
		out[uint64(id)] = struct{}{}
	}
	return out, rows.Err()
}

func (s *HybridStore) fetchPayloads(ctx context.Context, ids []uint64) (map[uint64]Payload, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, int64(id))
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, file_path, folder_path, ordinal, text, token_count, file_mime
		FROM points WHERE id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "fetch payloads")
	}
	defer rows.Close()

	out := make(map[uint64]Payload, len(ids))
	for rows.Next() {
		var id int64
		var pl Payload
		if err := rows.Scan(&id, &pl.FilePath, &pl.FolderPath, &pl.Ordinal, &pl.Text, &pl.TokenCount, &pl.FileMIME); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "scan payload")
		}
		out[uint64(id)] = pl
	}
	return out, rows.Err()
}

// CountByFile returns how many points carry the given file path.
func (s *HybridStore) CountByFile(ctx context.Context, filePath string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE file_path = ?`, filePath).Scan(&n)
	return n, wrapCount(err)
}

// Count returns the total number of live points.
func (s *HybridStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&n)
	return n, wrapCount(err)
}

func wrapCount(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.KindStoreUnavailable, "count points")
}

// Save persists the dense graph and id mappings with temp+rename.
// The payload database persists itself. Memory-only stores no-op.
func (s *HybridStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.KindStoreUnavailable, "vector store is closed")
	}
	if s.basePath == "" {
		return nil
	}

	tmp := s.basePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, s.basePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}

	metaTmp := s.basePath + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	meta := graphMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(metaTmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(metaTmp, s.basePath+".meta")
}

func (s *HybridStore) load() error {
	mf, err := os.Open(s.basePath + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer mf.Close()

	var meta graphMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]uint64, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}

	file, err := os.Open(s.basePath)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	// coder/hnsw Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *HybridStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return s.db.Close()
}

// whereClause renders the filter as SQL against the points table.
func (f Filter) whereClause() (string, []any) {
	var conds []string
	var args []any

	folderCond := func(folder string) string {
		args = append(args, folder, likePrefix(folder))
		return `(folder_path = ? OR folder_path LIKE ? ESCAPE '\')`
	}

	if f.FilePath != "" {
		conds = append(conds, "file_path = ?")
		args = append(args, f.FilePath)
	}
	if f.FolderPrefix != "" {
		conds = append(conds, folderCond(f.FolderPrefix))
	}
	if len(f.IncludeFolders) > 0 {
		var ors []string
		for _, folder := range f.IncludeFolders {
			ors = append(ors, folderCond(folder))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	for _, folder := range f.ExcludeFolders {
		conds = append(conds, "NOT "+folderCond(folder))
	}
	if len(f.MIMEs) > 0 {
		placeholders := make([]string, len(f.MIMEs))
		for i, m := range f.MIMEs {
			placeholders[i] = "?"
			args = append(args, m)
		}
		conds = append(conds, fmt.Sprintf("file_mime IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func likePrefix(prefix string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "/%"
}

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
