package fingerprint

// migrations run in order on every open; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS fingerprints (
		content_hash TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,

	// One content hash may be reached from many URLs.
	`CREATE TABLE IF NOT EXISTS fingerprint_urls (
		url_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL REFERENCES fingerprints (content_hash) ON DELETE CASCADE,
		PRIMARY KEY (url_hash, content_hash)
	);`,

	`CREATE INDEX IF NOT EXISTS ix_fingerprint_urls_content ON fingerprint_urls (content_hash);`,

	`CREATE INDEX IF NOT EXISTS ix_fingerprints_path ON fingerprints (file_path);`,

	`CREATE TABLE IF NOT EXISTS schema_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,

	`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', '1');`,
}
