package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxloom/pkg/provider/embeddings"
)

const defaultLoreTopK = 4

const ddlPersonas = `
CREATE TABLE IF NOT EXISTS personas (
    name          TEXT         PRIMARY KEY,
    system_prompt TEXT         NOT NULL,
    greeting      TEXT         NOT NULL DEFAULT '',
    voice         TEXT         NOT NULL DEFAULT '',
    language      TEXT         NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlLore returns the lore DDL with the embedding dimension substituted. The
// vector dimension is baked into the column type at schema creation time.
func ddlLore(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS persona_lore (
    id           BIGSERIAL    PRIMARY KEY,
    persona_name TEXT         NOT NULL REFERENCES personas (name) ON DELETE CASCADE,
    snippet      TEXT         NOT NULL,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_persona_lore_name
    ON persona_lore (persona_name);

CREATE INDEX IF NOT EXISTS idx_persona_lore_embedding
    ON persona_lore USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// PostgresOption is a functional option for PostgresStore.
type PostgresOption func(*PostgresStore)

// WithLoreTopK sets how many lore snippets are retrieved per resolve.
// Default: 4.
func WithLoreTopK(k int) PostgresOption {
	return func(s *PostgresStore) {
		if k > 0 {
			s.topK = k
		}
	}
}

// PostgresStore keeps personas in PostgreSQL and enriches the system prompt
// at resolve time: persona lore snippets are embedded into a pgvector HNSW
// index, and the top-K matches for the persona's own description are appended
// to the system prompt as background knowledge.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	topK     int
}

// NewPostgresStore connects to the database at dsn, registers pgvector types
// on every connection, and runs the idempotent schema migration. The lore
// vector dimension is taken from the embedder and must not change after the
// first migration without a manual schema update.
func NewPostgresStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...PostgresOption) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persona: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persona: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persona: ping: %w", err)
	}

	for _, stmt := range []string{ddlPersonas, ddlLore(embedder.Dimensions())} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("persona: migrate: %w", err)
		}
	}

	s := &PostgresStore{
		pool:     pool,
		embedder: embedder,
		topK:     defaultLoreTopK,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert inserts or fully replaces the persona registered under p.Name.
func (s *PostgresStore) Upsert(ctx context.Context, p Persona) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("persona: upsert: name is required")
	}
	const q = `
		INSERT INTO personas (name, system_prompt, greeting, voice, language, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (name) DO UPDATE SET
		    system_prompt = EXCLUDED.system_prompt,
		    greeting      = EXCLUDED.greeting,
		    voice         = EXCLUDED.voice,
		    language      = EXCLUDED.language,
		    updated_at    = now()`
	if _, err := s.pool.Exec(ctx, q, p.Name, p.SystemPrompt, p.Greeting, p.Voice, p.Language); err != nil {
		return fmt.Errorf("persona: upsert %q: %w", p.Name, err)
	}
	return nil
}

// IndexLore embeds the given snippets and adds them to the persona's lore
// index. Existing snippets are kept; call ClearLore first for a full rebuild.
func (s *PostgresStore) IndexLore(ctx context.Context, personaName string, snippets []string) error {
	if len(snippets) == 0 {
		return nil
	}
	vectors, err := s.embedder.EmbedBatch(ctx, snippets)
	if err != nil {
		return fmt.Errorf("persona: embed lore for %q: %w", personaName, err)
	}

	const q = `INSERT INTO persona_lore (persona_name, snippet, embedding) VALUES ($1, $2, $3)`
	for i, snippet := range snippets {
		if _, err := s.pool.Exec(ctx, q, personaName, snippet, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("persona: index lore for %q: %w", personaName, err)
		}
	}
	return nil
}

// ClearLore removes all lore snippets indexed for the persona.
func (s *PostgresStore) ClearLore(ctx context.Context, personaName string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM persona_lore WHERE persona_name = $1`, personaName); err != nil {
		return fmt.Errorf("persona: clear lore for %q: %w", personaName, err)
	}
	return nil
}

// Resolve implements Store. The returned persona's system prompt carries the
// top-K lore snippets most similar to the persona's own description, so the
// model starts every session with its most relevant background knowledge.
func (s *PostgresStore) Resolve(ctx context.Context, name string) (Persona, error) {
	var p Persona
	err := s.pool.QueryRow(ctx,
		`SELECT name, system_prompt, greeting, voice, language FROM personas WHERE name = $1`, name,
	).Scan(&p.Name, &p.SystemPrompt, &p.Greeting, &p.Voice, &p.Language)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Persona{}, fmt.Errorf("persona: resolve %q: %w", name, ErrNotFound)
		}
		return Persona{}, fmt.Errorf("persona: resolve %q: %w", name, err)
	}

	lore, err := s.retrieveLore(ctx, p)
	if err != nil {
		return Persona{}, err
	}
	if len(lore) > 0 {
		p.SystemPrompt += "\n\nBackground knowledge:\n- " + strings.Join(lore, "\n- ")
	}
	return p, nil
}

// retrieveLore finds the topK lore snippets closest (cosine distance) to the
// persona's description.
func (s *PostgresStore) retrieveLore(ctx context.Context, p Persona) ([]string, error) {
	query, err := s.embedder.Embed(ctx, p.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("persona: embed description of %q: %w", p.Name, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT snippet
		FROM   persona_lore
		WHERE  persona_name = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`, pgvector.NewVector(query), p.Name, s.topK)
	if err != nil {
		return nil, fmt.Errorf("persona: lore search for %q: %w", p.Name, err)
	}

	snippets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("persona: scan lore rows: %w", err)
	}
	return snippets, nil
}

var _ Store = (*PostgresStore)(nil)
