package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/maxthraxx/chronicler/internal/models"
)

// PageRow represents a row in the pages table.
type PageRow struct {
	Path     string
	Title    string
	Checksum string
	Size     int64
	ModTime  int64 // unix nanoseconds
	Tags     []string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type fileStamp struct {
	checksum string
	size     int64
	modTime  int64
}

// UpsertPage inserts or replaces a page, its FTS entry, and its links within a transaction.
func (db *DB) UpsertPage(p PageRow, body string, links []models.Link) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err = tx.Exec(`
		INSERT INTO pages (path, title, checksum, size, mod_time, tags, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title    = excluded.title,
			checksum = excluded.checksum,
			size     = excluded.size,
			mod_time = excluded.mod_time,
			tags     = excluded.tags,
			body     = excluded.body
	`, p.Path, p.Title, p.Checksum, p.Size, p.ModTime, string(tagsJSON), body)
	if err != nil {
		return fmt.Errorf("catalog: upsert page: %w", err)
	}

	if err := ftsUpsert(tx, p.Path, p.Title, body, tags); err != nil {
		return err
	}

	// Links are replaced wholesale; duplicates are kept because multiplicity matters.
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, p.Path); err != nil {
		return fmt.Errorf("catalog: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO links (source, target, section, alias, line, col) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			var line, col int
			if l.Position != nil {
				line, col = l.Position.Line, l.Position.Column
			}
			if _, err := stmt.Exec(p.Path, l.Target, l.Section, l.Alias, line, col); err != nil {
				return fmt.Errorf("catalog: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeletePage removes a page, its FTS entry, and outgoing links.
func (db *DB) DeletePage(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pages WHERE path = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete page: %w", err)
	}
	return tx.Commit()
}

// Checksum returns the stored checksum for a page, or empty string if not found.
func (db *DB) Checksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM pages WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// LinkSources returns the pages holding a link whose raw target matches
// name case-insensitively, one entry per link.
func (db *DB) LinkSources(name string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM links WHERE target = ? COLLATE NOCASE ORDER BY source`, name)
	if err != nil {
		return nil, fmt.Errorf("catalog: link sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) stamps() (map[string]fileStamp, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, size, mod_time FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("catalog: stamps: %w", err)
	}
	defer rows.Close()
	out := make(map[string]fileStamp)
	for rows.Next() {
		var p string
		var s fileStamp
		if err := rows.Scan(&p, &s.checksum, &s.size, &s.modTime); err != nil {
			return nil, err
		}
		out[p] = s
	}
	return out, rows.Err()
}
