package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// CacheEntry is one row of a key/value cache table.
type CacheEntry struct {
	ID        int64
	Key       string
	Value     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cache is a TTL key/value store backed by one table of the shared
// database. The response cache and the decrypt cache are two Cache
// instances over different tables.
type Cache struct {
	db        *Database
	tableName string
}

// NewCache creates a cache over the named table.
func NewCache(db *Database, tableName string) *Cache {
	return &Cache{
		db:        db,
		tableName: tableName,
	}
}

// Initialize creates the cache table if it doesn't exist.
func (c *Cache) Initialize() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_%s_key ON %s(key);
		CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at);
	`, c.tableName, c.tableName, c.tableName, c.tableName, c.tableName)

	return c.db.ExecuteSchema(schema)
}

// Get retrieves a live value from the cache.
func (c *Cache) Get(key string) (string, bool, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key = ? AND expires_at > CURRENT_TIMESTAMP
	`, c.tableName)

	var value string
	err := c.db.DB().QueryRow(query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache value: %w", err)
	}

	return value, true, nil
}

// Set stores a value with the given time to live.
func (c *Cache) Set(key, value string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, c.tableName)

	_, err := c.db.DB().Exec(query, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set cache value: %w", err)
	}

	return nil
}

// Delete removes a single key.
func (c *Cache) Delete(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.tableName)

	_, err := c.db.DB().Exec(query, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache value: %w", err)
	}

	return nil
}

// DeletePrefix removes every key starting with prefix and returns the
// number of rows removed.
func (c *Cache) DeletePrefix(prefix string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE ? ESCAPE '\'`, c.tableName)

	result, err := c.db.DB().Exec(query, escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache prefix: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}

// ListPrefix returns the live keys starting with prefix.
func (c *Cache) ListPrefix(prefix string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT key FROM %s
		WHERE key LIKE ? ESCAPE '\' AND expires_at > CURRENT_TIMESTAMP
		ORDER BY key
	`, c.tableName)

	rows, err := c.db.DB().Query(query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// escapeLike protects LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// CleanupExpired removes expired entries from the cache.
func (c *Cache) CleanupExpired() error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < CURRENT_TIMESTAMP`, c.tableName)

	result, err := c.db.DB().Exec(query)
	if err != nil {
		return fmt.Errorf("failed to cleanup expired entries: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		slog.Debug("Cleaned up expired cache entries", "table", c.tableName, "count", rowsAffected)
	}

	return nil
}

// Stats returns entry counts for the cache table.
func (c *Cache) Stats() (map[string]any, error) {
	stats := make(map[string]any)

	var totalEntries int64
	err := c.db.DB().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c.tableName)).Scan(&totalEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to get total entries: %w", err)
	}
	stats["total_entries"] = totalEntries

	var validEntries int64
	err = c.db.DB().QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE expires_at > CURRENT_TIMESTAMP`, c.tableName)).Scan(&validEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to get valid entries: %w", err)
	}
	stats["valid_entries"] = validEntries
	stats["expired_entries"] = totalEntries - validEntries

	return stats, nil
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() error {
	query := fmt.Sprintf(`DELETE FROM %s`, c.tableName)

	_, err := c.db.DB().Exec(query)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	return nil
}
