package memory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/dotclaw/host/internal/dbutil"
)

var normalizeNonWord = regexp.MustCompile(`[^a-z0-9\s]+`)
var normalizeSpace = regexp.MustCompile(`\s+`)

// normalize lowercases, strips punctuation and collapses whitespace, so
// near-duplicate phrasing maps to the same identity.
func normalize(content string) string {
	lower := strings.ToLower(content)
	stripped := normalizeNonWord.ReplaceAllString(lower, " ")
	return strings.TrimSpace(normalizeSpace.ReplaceAllString(stripped, " "))
}

// Upsert normalizes and merges each input by identity
// (group_folder, scope, subject_id, type, normalized): importance and
// confidence take the max, content keeps the longer string, tags union.
// scope=global writes from a non-main group are downgraded to scope=group.
func (s *Store) Upsert(ctx context.Context, groupFolder string, items []UpsertInput) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, in := range items {
		scope := in.Scope
		if scope == ScopeGlobal && groupFolder != "main" {
			scope = ScopeGroup
		}
		normalized := normalize(in.Content)
		var item Item
		err := dbutil.RetryOnBusy(ctx, 5, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin upsert tx: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			var existing Item
			row := tx.QueryRowContext(ctx, `
				SELECT id, group_folder, scope, subject_id, type, content, normalized,
					importance, confidence, tags, expires_at, created_at, updated_at,
					last_accessed_at, embedding
				FROM memory_items
				WHERE group_folder = ? AND scope = ? AND subject_id = ? AND type = ? AND normalized = ?;
			`, groupFolder, string(scope), in.SubjectID, string(in.Type), normalized)
			found, err := scanItemRow(row, &existing)
			if err != nil {
				return fmt.Errorf("lookup identity: %w", err)
			}

			if !found {
				importance := clamp01(in.Importance)
				confidence := clamp01(in.Confidence)
				res, err := tx.ExecContext(ctx, `
					INSERT INTO memory_items (
						group_folder, scope, subject_id, type, content, normalized,
						importance, confidence, tags, expires_at, embedding
					) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
				`, groupFolder, string(scope), in.SubjectID, string(in.Type), in.Content, normalized,
					importance, confidence, joinTags(in.Tags), in.ExpiresAt, encodeEmbedding(in.Embedding))
				if err != nil {
					return fmt.Errorf("insert item: %w", err)
				}
				id, err := res.LastInsertId()
				if err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				item = Item{
					ID: id, GroupFolder: groupFolder, Scope: scope, SubjectID: in.SubjectID,
					Type: in.Type, Content: in.Content, Normalized: normalized,
					Importance: importance, Confidence: confidence, Tags: in.Tags,
					ExpiresAt: in.ExpiresAt, Embedding: in.Embedding,
				}
				return nil
			}

			mergedContent := existing.Content
			if len(in.Content) > len(existing.Content) {
				mergedContent = in.Content
			}
			mergedImportance := maxFloat(existing.Importance, clamp01(in.Importance))
			mergedConfidence := maxFloat(existing.Confidence, clamp01(in.Confidence))
			mergedTags := unionTags(existing.Tags, in.Tags)
			mergedEmbedding := existing.Embedding
			if len(in.Embedding) > 0 {
				mergedEmbedding = in.Embedding
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE memory_items
				SET content = ?, importance = ?, confidence = ?, tags = ?,
					embedding = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?;
			`, mergedContent, mergedImportance, mergedConfidence, joinTags(mergedTags),
				encodeEmbedding(mergedEmbedding), existing.ID); err != nil {
				return fmt.Errorf("merge item: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			existing.Content = mergedContent
			existing.Importance = mergedImportance
			existing.Confidence = mergedConfidence
			existing.Tags = mergedTags
			existing.Embedding = mergedEmbedding
			item = existing
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// List returns non-expired items matching the given scope/user/type filter.
// Any of subjectID/itemType may be empty to mean "no filter".
func (s *Store) List(ctx context.Context, groupFolder string, scope Scope, subjectID string, itemType ItemType) ([]Item, error) {
	query := `
		SELECT id, group_folder, scope, subject_id, type, content, normalized,
			importance, confidence, tags, expires_at, created_at, updated_at,
			last_accessed_at, embedding
		FROM memory_items
		WHERE group_folder = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`
	args := []any{groupFolder}
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, string(scope))
	}
	if subjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, subjectID)
	}
	if itemType != "" {
		query += " AND type = ?"
		args = append(args, string(itemType))
	}
	query += " ORDER BY updated_at DESC;"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var item Item
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ForgetByIDs deletes the given item ids.
func (s *Store) ForgetByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?;`, id)
		if err != nil {
			return total, fmt.Errorf("forget id %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// ForgetByIdentity deletes items matching a normalized-content/scope[/user] key.
func (s *Store) ForgetByIdentity(ctx context.Context, groupFolder, content string, scope Scope, subjectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_items
		WHERE group_folder = ? AND scope = ? AND subject_id = ? AND normalized = ?;
	`, groupFolder, string(scope), subjectID, normalize(content))
	if err != nil {
		return 0, fmt.Errorf("forget by identity: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports item counts per scope for a group.
type Stats struct {
	Total       int64
	ByScope     map[Scope]int64
	ExpiringSet int64
}

// Stats computes aggregate counts for a group's memory.
func (s *Store) Stats(ctx context.Context, groupFolder string) (Stats, error) {
	st := Stats{ByScope: map[Scope]int64{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, COUNT(1) FROM memory_items
		WHERE group_folder = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		GROUP BY scope;
	`, groupFolder)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope string
		var n int64
		if err := rows.Scan(&scope, &n); err != nil {
			return st, err
		}
		st.ByScope[Scope(scope)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM memory_items
		WHERE group_folder = ? AND expires_at IS NOT NULL AND expires_at > CURRENT_TIMESTAMP;
	`, groupFolder).Scan(&st.ExpiringSet); err != nil {
		return st, fmt.Errorf("expiring count: %w", err)
	}
	return st, nil
}

// CleanupExpired deletes every item whose expires_at has passed. Called on
// startup and on a maintenance cadence.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_items WHERE expires_at IS NOT NULL AND expires_at <= CURRENT_TIMESTAMP;
	`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return res.RowsAffected()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func unionTags(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range a {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func scanItem(rows *sql.Rows, item *Item) error {
	var (
		scope, typ, tags string
		expiresAt        sql.NullTime
		embeddingBlob    []byte
	)
	if err := rows.Scan(
		&item.ID, &item.GroupFolder, &scope, &item.SubjectID, &typ, &item.Content, &item.Normalized,
		&item.Importance, &item.Confidence, &tags, &expiresAt,
		&item.CreatedAt, &item.UpdatedAt, &item.LastAccessedAt, &embeddingBlob,
	); err != nil {
		return err
	}
	item.Scope = Scope(scope)
	item.Type = ItemType(typ)
	item.Tags = splitTags(tags)
	if expiresAt.Valid {
		t := expiresAt.Time
		item.ExpiresAt = &t
	}
	item.Embedding = decodeEmbedding(embeddingBlob)
	return nil
}

// scanItemRow reads a single *sql.Row, reporting found=false on no-rows.
func scanItemRow(row *sql.Row, item *Item) (bool, error) {
	var (
		scope, typ, tags string
		expiresAt        sql.NullTime
		embeddingBlob    []byte
	)
	err := row.Scan(
		&item.ID, &item.GroupFolder, &scope, &item.SubjectID, &typ, &item.Content, &item.Normalized,
		&item.Importance, &item.Confidence, &tags, &expiresAt,
		&item.CreatedAt, &item.UpdatedAt, &item.LastAccessedAt, &embeddingBlob,
	)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	item.Scope = Scope(scope)
	item.Type = ItemType(typ)
	item.Tags = splitTags(tags)
	if expiresAt.Valid {
		t := expiresAt.Time
		item.ExpiresAt = &t
	}
	item.Embedding = decodeEmbedding(embeddingBlob)
	return true, nil
}
