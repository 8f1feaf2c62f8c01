package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

const metaDimension = "embedding_dimension"

var now = func() time.Time { return time.Now().UTC() }

// SQLStore implements ports.VectorStore on SQLite or Postgres.
// Embeddings are stored as float32 blobs and scored in process.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLiteStore opens (or creates) vectors.db under dataDir.
func NewSQLiteStore(dataDir string) (*SQLStore, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dsn := "file:" + filepath.Join(dataDir, "vectors.db") +
		"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	return NewSQLStore("sqlite3", dsn)
}

// NewSQLStore connects with driver ("sqlite3" or "pgx") and creates the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}
	return s, nil
}

var schemas = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			uploaded_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			state TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			source_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			UNIQUE (file_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			cited_chunk_ids TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created_at ON conversation_turns(created_at)`,
	},
	"pgx": {
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			uploaded_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			source_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			embedding BYTEA NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT '',
			UNIQUE (file_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			cited_chunk_ids TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created_at ON conversation_turns(created_at)`,
	},
}

type fileRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	ContentType  string    `db:"content_type"`
	Size         int64     `db:"size"`
	UploadedAt   time.Time `db:"uploaded_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	State        string    `db:"state"`
	ErrorKind    string    `db:"error_kind"`
	ErrorMessage string    `db:"error_message"`
	ChunkCount   int       `db:"chunk_count"`
	SourcePath   string    `db:"source_path"`
}

func (r fileRow) toEntity() entities.File {
	state := entities.IngestState(r.State)
	return entities.File{
		ID:           r.ID,
		Name:         r.Name,
		ContentType:  r.ContentType,
		Size:         r.Size,
		UploadedAt:   r.UploadedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Status:       state.Status(),
		State:        state,
		ErrorKind:    entities.ErrorKind(r.ErrorKind),
		ErrorMessage: r.ErrorMessage,
		ChunkCount:   r.ChunkCount,
		SourcePath:   r.SourcePath,
	}
}

type chunkRow struct {
	ID             string `db:"id"`
	FileID         string `db:"file_id"`
	Index          int    `db:"chunk_index"`
	Text           string `db:"text"`
	StartOffset    int    `db:"start_offset"`
	EndOffset      int    `db:"end_offset"`
	Embedding      []byte `db:"embedding"`
	EmbeddingModel string `db:"embedding_model"`
	FileName       string `db:"file_name"`
}

func (r chunkRow) toEntity() (entities.Chunk, error) {
	vec, err := decodeVector(r.Embedding)
	if err != nil {
		return entities.Chunk{}, entities.E(entities.KindStoreIntegrity, "decode chunk "+r.ID, err)
	}
	return entities.Chunk{
		ID:             r.ID,
		FileID:         r.FileID,
		Index:          r.Index,
		Text:           r.Text,
		StartOffset:    r.StartOffset,
		EndOffset:      r.EndOffset,
		Embedding:      vec,
		EmbeddingModel: r.EmbeddingModel,
	}, nil
}

type turnRow struct {
	ID            string    `db:"id"`
	Question      string    `db:"question"`
	Answer        string    `db:"answer"`
	CitedChunkIDs string    `db:"cited_chunk_ids"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *SQLStore) CreateFile(ctx context.Context, file *entities.File) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO files (id, name, content_type, size, uploaded_at, updated_at, state, error_kind, error_message, chunk_count, source_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		file.ID, file.Name, file.ContentType, file.Size, file.UploadedAt, file.UpdatedAt,
		string(file.State), string(file.ErrorKind), file.ErrorMessage, file.ChunkCount, file.SourcePath,
	)
	if err != nil {
		return entities.E(entities.KindStoreIntegrity, "create file", err)
	}
	return nil
}

func (s *SQLStore) UpdateFileState(ctx context.Context, fileID string, state entities.IngestState, kind entities.ErrorKind, msg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.fileState(ctx, tx, fileID)
	if err != nil {
		return err
	}
	if !current.CanTransition(state) {
		return entities.Errorf(entities.KindStoreIntegrity, "update file", "illegal transition %s -> %s", current, state)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE files SET state = ?, error_kind = ?, error_message = ?, updated_at = ? WHERE id = ?`),
		string(state), string(kind), msg, now(), fileID,
	)
	if err != nil {
		return entities.E(entities.KindStoreIntegrity, "update file", err)
	}
	return tx.Commit()
}

func (s *SQLStore) fileState(ctx context.Context, tx *sqlx.Tx, fileID string) (entities.IngestState, error) {
	var state string
	err := tx.GetContext(ctx, &state, tx.Rebind(`SELECT state FROM files WHERE id = ?`), fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", entities.Errorf(entities.KindNotFound, "get file", "file %s", fileID)
	}
	if err != nil {
		return "", fmt.Errorf("reading file state: %w", err)
	}
	return entities.IngestState(state), nil
}

// Insert writes every chunk, the chunk count and the stored state in one
// transaction. Any failure rolls all of it back.
func (s *SQLStore) Insert(ctx context.Context, fileID string, chunks []entities.Chunk) error {
	dim, err := checkChunks(fileID, chunks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.fileState(ctx, tx, fileID)
	if err != nil {
		return err
	}
	if !current.CanTransition(entities.StateStored) {
		return entities.Errorf(entities.KindStoreIntegrity, "insert", "file %s is %s", fileID, current)
	}
	if err := s.claimDimension(ctx, tx, dim); err != nil {
		return err
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO chunks (id, file_id, chunk_index, text, start_offset, end_offset, embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, fileID, c.Index, c.Text, c.StartOffset, c.EndOffset, encodeVector(c.Embedding), c.EmbeddingModel)
		if err != nil {
			return entities.E(entities.KindStoreIntegrity, "insert chunk", err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE files SET state = ?, chunk_count = ?, error_kind = '', error_message = '', updated_at = ? WHERE id = ?`),
		string(entities.StateStored), len(chunks), now(), fileID,
	)
	if err != nil {
		return entities.E(entities.KindStoreIntegrity, "insert", err)
	}
	if err := tx.Commit(); err != nil {
		return entities.E(entities.KindStoreIntegrity, "commit", err)
	}
	return nil
}

// claimDimension records dim as the store's dimension, or checks it against
// the one already recorded. The insert is a no-op when a concurrent
// transaction claimed first; the re-read then sees the winner's value.
func (s *SQLStore) claimDimension(ctx context.Context, tx *sqlx.Tx, dim int) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`),
		metaDimension, strconv.Itoa(dim))
	if err != nil {
		return entities.E(entities.KindStoreIntegrity, "record dimension", err)
	}

	var value string
	if err := tx.GetContext(ctx, &value, tx.Rebind(`SELECT value FROM store_meta WHERE key = ?`), metaDimension); err != nil {
		return fmt.Errorf("reading dimension: %w", err)
	}
	if value != strconv.Itoa(dim) {
		return entities.Errorf(entities.KindStoreIntegrity, "insert", "embedding dimension %d does not match store dimension %s", dim, value)
	}
	return nil
}

func (s *SQLStore) dimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM store_meta WHERE key = ?`), metaDimension)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	return strconv.Atoi(value)
}

// SimilaritySearch scans every chunk of stored files and scores it exactly.
func (s *SQLStore) SimilaritySearch(ctx context.Context, vector []float32, k int, fileIDs []string) ([]entities.RetrievalResult, error) {
	if k <= 0 {
		return nil, nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, entities.Errorf(entities.KindStoreIntegrity, "search", "query dimension %d does not match store dimension %d", len(vector), dim)
	}

	query := `
		SELECT c.id, c.file_id, c.chunk_index, c.text, c.start_offset, c.end_offset, c.embedding, c.embedding_model, f.name AS file_name
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE f.state = ?`
	args := []interface{}{string(entities.StateStored)}
	if len(fileIDs) > 0 {
		query += ` AND c.file_id IN (?)`
		query, args, err = sqlx.In(query, string(entities.StateStored), fileIDs)
		if err != nil {
			return nil, fmt.Errorf("building query: %w", err)
		}
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []entities.RetrievalResult
	for rows.Next() {
		var row chunkRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		chunk, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		score := cosineSimilarity(vector, chunk.Embedding)
		chunk.Embedding = nil
		results = append(results, entities.RetrievalResult{Chunk: chunk, Score: score, FileName: row.FileName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return rank(results, k), nil
}

// DeleteFile removes a file and its chunks in one transaction.
func (s *SQLStore) DeleteFile(ctx context.Context, fileID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chunks WHERE file_id = ?`), fileID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM files WHERE id = ?`), fileID)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entities.Errorf(entities.KindNotFound, "delete file", "file %s", fileID)
	}

	var remaining int
	if err := tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM chunks`); err != nil {
		return fmt.Errorf("counting chunks: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM store_meta WHERE key = ?`), metaDimension); err != nil {
			return fmt.Errorf("clearing dimension: %w", err)
		}
	}
	return tx.Commit()
}

const fileColumns = `id, name, content_type, size, uploaded_at, updated_at, state, error_kind, error_message, chunk_count, source_path`

func (s *SQLStore) GetFile(ctx context.Context, fileID string) (*entities.File, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.Errorf(entities.KindNotFound, "get file", "file %s", fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	f := row.toEntity()
	return &f, nil
}

func (s *SQLStore) ListFiles(ctx context.Context) ([]entities.File, error) {
	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+fileColumns+` FROM files ORDER BY uploaded_at DESC, id`); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	files := make([]entities.File, len(rows))
	for i, r := range rows {
		files[i] = r.toEntity()
	}
	return files, nil
}

func (s *SQLStore) GetChunks(ctx context.Context, fileID string) ([]entities.Chunk, error) {
	if _, err := s.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT c.id, c.file_id, c.chunk_index, c.text, c.start_offset, c.end_offset, c.embedding, c.embedding_model, f.name AS file_name
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE c.file_id = ? ORDER BY c.chunk_index`), fileID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	chunks := make([]entities.Chunk, len(rows))
	for i, r := range rows {
		c, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		chunks[i] = c
	}
	return chunks, nil
}

// ChunkCount returns the number of searchable chunks.
func (s *SQLStore) ChunkCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM chunks c JOIN files f ON f.id = c.file_id WHERE f.state = ?`),
		string(entities.StateStored))
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

func (s *SQLStore) AppendTurn(ctx context.Context, turn entities.ConversationTurn) error {
	ids, err := json.Marshal(turn.CitedChunkIDs)
	if err != nil {
		return fmt.Errorf("encoding cited chunk ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversation_turns (id, question, answer, cited_chunk_ids, created_at) VALUES (?, ?, ?, ?, ?)`),
		turn.ID, turn.Question, turn.Answer, string(ids), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// ListTurns returns the newest turns first.
func (s *SQLStore) ListTurns(ctx context.Context, limit int) ([]entities.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []turnRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, question, answer, cited_chunk_ids, created_at FROM conversation_turns
		ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	turns := make([]entities.ConversationTurn, len(rows))
	for i, r := range rows {
		turns[i] = entities.ConversationTurn{
			ID:        r.ID,
			Question:  r.Question,
			Answer:    r.Answer,
			CreatedAt: r.CreatedAt.UTC(),
		}
		if err := json.Unmarshal([]byte(r.CitedChunkIDs), &turns[i].CitedChunkIDs); err != nil {
			return nil, entities.E(entities.KindStoreIntegrity, "decode turn "+r.ID, err)
		}
	}
	return turns, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
