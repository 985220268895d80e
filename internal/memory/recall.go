package memory

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dotclaw/host/internal/dbutil"
	"github.com/dotclaw/host/internal/tokenutil"
)

var queryTokenPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// buildFTSQuery turns a free-text query into an FTS5 MATCH expression of
// quoted prefix tokens, e.g. `"hello"* "world"*`.
func buildFTSQuery(query string) string {
	tokens := queryTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, fmt.Sprintf(`"%s"*`, strings.ToLower(t)))
	}
	return strings.Join(parts, " ")
}

// Recall runs the hybrid lexical+optional-vector recall described in the
// memory store's contract: tokenize the query, full-text prefix search
// scoped to (group, global) and (non-user scope OR subject==user), blend
// 0.55*bm25Norm + 0.30*importance + 0.15*recency, optionally folding in
// cosine similarity against queryEmbedding as an additional ranking term,
// then greedily include results up to maxTokens (capped at maxResults).
func (s *Store) Recall(ctx context.Context, groupFolder, user, query string, maxResults, maxTokens int, queryEmbedding []float32) ([]RecallResult, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	var results []RecallResult
	err := dbutil.RetryOnBusy(ctx, 5, func() error {
		results = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT m.id, m.group_folder, m.scope, m.subject_id, m.type, m.content, m.normalized,
				m.importance, m.confidence, m.tags, m.expires_at, m.created_at, m.updated_at,
				m.last_accessed_at, m.embedding, bm25(memory_fts) AS rank
			FROM memory_fts
			JOIN memory_items m ON m.id = memory_fts.rowid
			WHERE memory_fts MATCH ?
				AND m.group_folder IN (?, 'global')
				AND (m.scope != 'user' OR m.subject_id = ?)
				AND (m.expires_at IS NULL OR m.expires_at > CURRENT_TIMESTAMP)
			ORDER BY rank
			LIMIT 500;
		`, ftsQuery, groupFolder, user)
		if err != nil {
			return fmt.Errorf("recall query: %w", err)
		}
		defer rows.Close()

		now := time.Now().UTC()
		for rows.Next() {
			var item Item
			var bm25 float64
			if err := scanItemWithRank(rows, &item, &bm25); err != nil {
				return fmt.Errorf("scan recall row: %w", err)
			}
			bm25Norm := 1.0 / (1.0 + bm25)
			ageDays := now.Sub(item.UpdatedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			recency := math.Exp(-ageDays / recencyHalfLifeDays)
			base := weightBM25*bm25Norm + weightImportance*item.Importance + weightRecency*recency

			score := base
			embScore := 0.0
			if len(queryEmbedding) > 0 && len(item.Embedding) > 0 {
				embScore = cosineSimilarity(queryEmbedding, item.Embedding)
				// Embeddings are a pluggable ranking enhancement: fold in
				// without ever dropping a lexically matched candidate.
				score = 0.85*base + 0.15*embScore
			}

			estTokens := tokenutil.EstimateTokens(item.Content)
			results = append(results, RecallResult{
				Item: item, BM25Norm: bm25Norm, Recency: recency,
				EmbeddingScore: embScore, Score: score, EstTokens: estTokens,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	var out []RecallResult
	tokenBudget := 0
	for _, r := range results {
		if len(out) >= maxResults {
			break
		}
		if maxTokens > 0 && tokenBudget+r.EstTokens > maxTokens && len(out) > 0 {
			break
		}
		out = append(out, r)
		tokenBudget += r.EstTokens
	}
	return out, nil
}

// timeOrNil scans a nullable SQLite DATETIME column into an optional time.
type timeOrNil struct{ t *time.Time }

func (n *timeOrNil) Scan(value any) error {
	if value == nil {
		n.t = nil
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		t := v
		n.t = &t
		return nil
	default:
		return fmt.Errorf("unsupported expires_at scan type %T", value)
	}
}

func scanItemWithRank(rows interface{ Scan(...any) error }, item *Item, bm25 *float64) error {
	var (
		scope, typ, tags string
		embeddingBlob    []byte
	)
	expiresAtNull := new(timeOrNil)
	if err := rows.Scan(
		&item.ID, &item.GroupFolder, &scope, &item.SubjectID, &typ, &item.Content, &item.Normalized,
		&item.Importance, &item.Confidence, &tags, expiresAtNull,
		&item.CreatedAt, &item.UpdatedAt, &item.LastAccessedAt, &embeddingBlob, bm25,
	); err != nil {
		return err
	}
	item.Scope = Scope(scope)
	item.Type = ItemType(typ)
	item.Tags = splitTags(tags)
	item.ExpiresAt = expiresAtNull.t
	item.Embedding = decodeEmbedding(embeddingBlob)
	return nil
}
