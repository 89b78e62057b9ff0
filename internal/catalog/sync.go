package catalog

import (
	"log/slog"
	"os"

	"github.com/maxthraxx/chronicler/internal/checksum"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/parser"
)

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Upserted int
	Removed  int
	Skipped  int
}

// Sync brings the catalog in line with the given pages:
//   - pages whose file changed size or mtime are re-read and upserted
//   - rows for paths no longer among pages are deleted
//
// Files that cannot be read are logged and left for the next pass.
func (db *DB) Sync(pages []*models.Page, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	stored, err := db.stamps()
	if err != nil {
		return stats, err
	}

	live := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		live[p.Path] = struct{}{}

		info, err := os.Stat(p.Path)
		if err != nil {
			logger.Warn("catalog: stat failed", slog.String("path", p.Path), slog.String("error", err.Error()))
			continue
		}
		if s, ok := stored[p.Path]; ok && s.size == info.Size() && s.modTime == info.ModTime().UnixNano() {
			stats.Skipped++
			continue
		}

		data, err := os.ReadFile(p.Path)
		if err != nil {
			logger.Warn("catalog: read failed", slog.String("path", p.Path), slog.String("error", err.Error()))
			continue
		}
		_, body := parser.ExtractFrontmatter(string(data))
		row := PageRow{
			Path:     p.Path,
			Title:    p.Title,
			Checksum: checksum.Sum(data),
			Size:     info.Size(),
			ModTime:  info.ModTime().UnixNano(),
			Tags:     p.Tags,
		}
		if err := db.UpsertPage(row, body, p.Links); err != nil {
			logger.Warn("catalog: upsert failed", slog.String("path", p.Path), slog.String("error", err.Error()))
			continue
		}
		stats.Upserted++
	}

	for path := range stored {
		if _, ok := live[path]; ok {
			continue
		}
		if err := db.DeletePage(path); err != nil {
			logger.Warn("catalog: delete failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
	}

	logger.Debug("catalog: synced",
		slog.Int("upserted", stats.Upserted),
		slog.Int("removed", stats.Removed),
		slog.Int("skipped", stats.Skipped))
	return stats, nil
}
