package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLite implements Engine with one row per pasta in a single table at
// <dataDir>/database.sqlite. Insert/update/delete are true single-row
// operations, UpdateAll drops and recreates the table as a bulk replace.
type SQLite struct {
	db   *sql.DB
	lock sync.RWMutex
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS pasta (
		id INTEGER PRIMARY KEY,
		content TEXT NOT NULL,
		file_name TEXT,
		file_size INTEGER,
		extension TEXT NOT NULL,
		custom_alias TEXT,
		read_only INTEGER NOT NULL,
		private INTEGER NOT NULL,
		editable INTEGER NOT NULL,
		encrypt_server INTEGER NOT NULL,
		encrypt_client INTEGER NOT NULL,
		encrypted_key TEXT,
		created INTEGER NOT NULL,
		expiration INTEGER NOT NULL,
		last_read INTEGER NOT NULL,
		read_count INTEGER NOT NULL,
		burn_after_reads INTEGER NOT NULL,
		pasta_type TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pasta_created ON pasta(created);
`

const pastaColumns = `id, content, file_name, file_size, extension, custom_alias, read_only, private, editable,
	encrypt_server, encrypt_client, encrypted_key, created, expiration, last_read,
	read_count, burn_after_reads, pasta_type`

// NewSQLite creates a relational backend at <dataDir>/database.sqlite
func NewSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	dbFile := filepath.Join(dataDir, "database.sqlite")
	log.Printf("[INFO] sqlite store %s", dbFile)

	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer, sqlite can't do better anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// ReadAll loads every row, ascending by created. A dropped table is
// recreated empty and the query retried once.
func (s *SQLite) ReadAll(ctx context.Context) ([]*Pasta, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	pastas, err := s.selectAll(ctx)
	if err != nil && strings.Contains(err.Error(), "no such table") {
		log.Printf("[INFO] pasta table missing, recreating")
		if _, err = s.db.ExecContext(ctx, sqliteSchema); err != nil {
			return nil, fmt.Errorf("recreate schema: %w", err)
		}
		pastas, err = s.selectAll(ctx) // single retry after creating the table
	}
	if err != nil {
		return nil, err
	}
	return pastas, nil
}

// Insert adds one row
func (s *SQLite) Insert(ctx context.Context, p *Pasta) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := insertRow(ctx, s.db, p); err != nil {
		log.Printf("[ERROR] failed to insert pasta %d: %v", p.ID, err)
		return fmt.Errorf("%w: %v", ErrSaveRejected, err)
	}
	return nil
}

// Update overwrites one row by id
func (s *SQLite) Update(ctx context.Context, p *Pasta) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE pasta SET content = ?, file_name = ?, file_size = ?, extension = ?, custom_alias = ?,
			read_only = ?, private = ?, editable = ?, encrypt_server = ?, encrypt_client = ?,
			encrypted_key = ?, created = ?, expiration = ?, last_read = ?, read_count = ?,
			burn_after_reads = ?, pasta_type = ? WHERE id = ?`,
		p.Content, fileName(p), fileSize(p), p.Extension, p.Alias,
		boolInt(p.Readonly), boolInt(p.Private), boolInt(p.Editable),
		boolInt(p.EncryptServer), boolInt(p.EncryptClient),
		p.EncryptedKey, p.Created, p.Expiration, p.LastRead, int64(p.ReadCount),
		int64(p.BurnAfterReads), p.Type, int64(p.ID),
	)
	if err != nil {
		log.Printf("[ERROR] failed to update pasta %d: %v", p.ID, err)
		return fmt.Errorf("update pasta: %w", err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAll drops and recreates the table, then inserts everything in one
// transaction, an atomic bulk replace
func (s *SQLite) UpdateAll(ctx context.Context, pastas []*Pasta) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS pasta"); err != nil {
		return fmt.Errorf("drop pasta table: %w", err)
	}
	if _, err = tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	for _, p := range pastas {
		if err = insertRow(ctx, tx, p); err != nil {
			return fmt.Errorf("bulk insert pasta %d: %w", p.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk replace: %w", err)
	}
	return nil
}

// DeleteByID removes one row, missing id is a no-op
func (s *SQLite) DeleteByID(ctx context.Context, id uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM pasta WHERE id = ?", int64(id)); err != nil {
		log.Printf("[ERROR] failed to delete pasta %d: %v", id, err)
		return fmt.Errorf("delete pasta: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *SQLite) selectAll(ctx context.Context) ([]*Pasta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+pastaColumns+" FROM pasta ORDER BY created ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("select pastas: %w", err)
	}
	defer rows.Close()

	var pastas []*Pasta
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		pastas = append(pastas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pastas: %w", err)
	}
	return pastas, nil
}

// execer covers both *sql.DB and *sql.Tx for row inserts
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRow(ctx context.Context, db execer, p *Pasta) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO pasta ("+pastaColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		int64(p.ID), p.Content, fileName(p), fileSize(p), p.Extension, p.Alias,
		boolInt(p.Readonly), boolInt(p.Private), boolInt(p.Editable),
		boolInt(p.EncryptServer), boolInt(p.EncryptClient),
		p.EncryptedKey, p.Created, p.Expiration, p.LastRead, int64(p.ReadCount),
		int64(p.BurnAfterReads), p.Type,
	)
	return err
}

func scanRow(rows *sql.Rows) (*Pasta, error) {
	var (
		p                  Pasta
		id                 int64
		fName              sql.NullString
		fSize              sql.NullInt64
		alias              sql.NullString
		encKey             sql.NullString
		readOnly, private  int
		editable           int
		encServer, encClnt int
		readCount, burn    int64
	)
	err := rows.Scan(&id, &p.Content, &fName, &fSize, &p.Extension, &alias, &readOnly, &private, &editable,
		&encServer, &encClnt, &encKey, &p.Created, &p.Expiration, &p.LastRead,
		&readCount, &burn, &p.Type)
	if err != nil {
		return nil, fmt.Errorf("scan pasta row: %w", err)
	}
	p.ID = uint64(id)
	p.Alias = alias.String
	p.Readonly, p.Private, p.Editable = readOnly != 0, private != 0, editable != 0
	p.EncryptServer, p.EncryptClient = encServer != 0, encClnt != 0
	p.EncryptedKey = encKey.String
	p.ReadCount, p.BurnAfterReads = uint64(readCount), uint64(burn)
	if fName.Valid && fName.String != "" {
		p.File = &PastaFile{Name: fName.String, Size: uint64(fSize.Int64)}
	}
	return &p, nil
}

func fileName(p *Pasta) string {
	if p.File == nil {
		return ""
	}
	return p.File.Name
}

func fileSize(p *Pasta) int64 {
	if p.File == nil {
		return 0
	}
	return int64(p.File.Size)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
