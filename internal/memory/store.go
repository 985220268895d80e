package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/dotclaw/host/internal/dbutil"
)

const schemaVersionLatest = 1

// schemaDDL mirrors memory_items 1:1 into an FTS5 virtual table
// (external-content mode) kept in sync by triggers, so lexical recall can
// use bm25() ranking without duplicating storage.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS memory_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_folder TEXT NOT NULL,
	scope TEXT NOT NULL CHECK(scope IN ('user','group','global')),
	subject_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	normalized TEXT NOT NULL,
	importance REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	embedding BLOB
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_items_identity
	ON memory_items(group_folder, scope, subject_id, type, normalized);
CREATE INDEX IF NOT EXISTS idx_memory_items_scope_group
	ON memory_items(group_folder, scope, subject_id);
CREATE INDEX IF NOT EXISTS idx_memory_items_expires
	ON memory_items(expires_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	content,
	normalized,
	content='memory_items',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memory_items_ai AFTER INSERT ON memory_items BEGIN
	INSERT INTO memory_fts(rowid, content, normalized) VALUES (new.id, new.content, new.normalized);
END;
CREATE TRIGGER IF NOT EXISTS memory_items_ad AFTER DELETE ON memory_items BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, content, normalized) VALUES ('delete', old.id, old.content, old.normalized);
END;
CREATE TRIGGER IF NOT EXISTS memory_items_au AFTER UPDATE ON memory_items BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, content, normalized) VALUES ('delete', old.id, old.content, old.normalized);
	INSERT INTO memory_fts(rowid, content, normalized) VALUES (new.id, new.content, new.normalized);
END;
`

var schemaChecksumLatest = checksum(schemaDDL)

func checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Store wraps the memory SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the long-term memory store at path. The
// driver must be registered with the fts5 build tag for the virtual table
// to be available; dbutil.Open pulls in mattn/go-sqlite3 for this purpose.
func Open(path string) (*Store, error) {
	db, err := dbutil.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("memory db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksumLatest {
			return fmt.Errorf("memory schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existing, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	for _, stmt := range splitStatements(schemaDDL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record schema migration: %w", err)
	}
	return tx.Commit()
}

func splitStatements(ddl string) []string {
	var out []string
	start := 0
	depth := 0
	for i := 0; i < len(ddl); i++ {
		switch ddl[i] {
		case 'B':
			if i+4 < len(ddl) && ddl[i:i+5] == "BEGIN" {
				depth++
			}
		case 'E':
			if i+2 < len(ddl) && ddl[i:i+3] == "END" {
				depth--
			}
		case ';':
			if depth <= 0 {
				stmt := trimSpace(ddl[start : i+1])
				start = i + 1
				if stmt != "" {
					out = append(out, stmt)
				}
			}
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
