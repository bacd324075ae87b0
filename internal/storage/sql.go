package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

type sqlBackend struct {
	db      *sql.DB
	dialect string
}

func openSQL(dialect, dsn string) (*sqlBackend, error) {
	driverName := "sqlite"
	if dialect == "postgres" {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == "sqlite" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	return &sqlBackend{db: db, dialect: dialect}, nil
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}

func (b *sqlBackend) Migrate() error {
	dir := path.Join("migrations", b.dialect)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := b.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (b *sqlBackend) GetDocument(ctx context.Context, guildID, key string) ([]byte, error) {
	var value string
	err := b.db.QueryRowContext(ctx, b.rebind(`SELECT value FROM settings_documents WHERE guild_id = ? AND doc_key = ?`), guildID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(value), nil
}

func (b *sqlBackend) PutDocument(ctx context.Context, guildID, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, b.rebind(`
		INSERT INTO settings_documents (guild_id, doc_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, doc_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`), guildID, key, string(value), time.Now().Unix())
	return err
}

func (b *sqlBackend) ListDocuments(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(`SELECT guild_id, value FROM settings_documents WHERE doc_key = ?`), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make(map[string][]byte)
	for rows.Next() {
		var guildID, value string
		if err := rows.Scan(&guildID, &value); err != nil {
			return nil, err
		}
		docs[guildID] = []byte(value)
	}
	return docs, rows.Err()
}

func (b *sqlBackend) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := b.db.ExecContext(ctx, b.rebind(`
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (b *sqlBackend) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(`
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (b *sqlBackend) CleanupAuditLogs(ctx context.Context, cutoff time.Time) error {
	_, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff.Unix())
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (b *sqlBackend) rebind(query string) string {
	if b.dialect != "postgres" {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func splitStatements(content string) []string {
	var stmts []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func isIgnorableMigrationError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column")
}
