package postgres

import "fmt"

func schema(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id           UUID PRIMARY KEY,
			user_id      TEXT NOT NULL,
			name         TEXT NOT NULL,
			size         BIGINT NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			storage_key  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id               BIGSERIAL PRIMARY KEY,
			document_id      UUID NOT NULL,
			user_id          TEXT NOT NULL,
			file_name        TEXT NOT NULL,
			chunk_text       TEXT NOT NULL,
			page_number      INT NOT NULL,
			token_count      INT NOT NULL DEFAULT 0,
			embedding        vector(%d),
			vector_generated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_chunks_pending ON chunks (document_id, id) WHERE NOT vector_generated`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_user_document ON chunks (user_id, document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
}

const (
	upsertDocumentSQL = `
INSERT INTO documents (id, user_id, name, size, content_type, storage_key, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	name = EXCLUDED.name,
	size = EXCLUDED.size,
	content_type = EXCLUDED.content_type,
	storage_key = EXCLUDED.storage_key,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`

	selectDocumentSQL = `
SELECT id, user_id, name, size, content_type, storage_key, status, error, created_at, updated_at
FROM documents WHERE id = $1`

	updateStatusSQL = `UPDATE documents SET status = $2, error = $3, updated_at = $4 WHERE id = $1`

	pendingChunksSQL = `
SELECT id, document_id, user_id, file_name, chunk_text, page_number, token_count, created_at
FROM chunks
WHERE document_id = $1 AND NOT vector_generated
ORDER BY id
LIMIT $2`

	saveEmbeddingSQL = `UPDATE chunks SET embedding = $1, vector_generated = TRUE WHERE id = $2`

	countChunksSQL = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT vector_generated)
FROM chunks WHERE document_id = $1`

	pendingDocumentsSQL = `
SELECT DISTINCT ON (document_id) document_id, user_id, file_name
FROM chunks
WHERE NOT vector_generated
ORDER BY document_id, id`

	deleteChunksSQL = `DELETE FROM chunks WHERE document_id = $1`

	// %s is the optional document filter.
	topKSQL = `
SELECT document_id, file_name, page_number, chunk_text, embedding <=> $1 AS distance
FROM chunks
WHERE user_id = $2 AND vector_generated AND embedding IS NOT NULL%s
ORDER BY embedding <=> $1
LIMIT $3`
)
