package writer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/parser"
)

// TxState is the stage a rename transaction has reached.
type TxState int

const (
	TxPrepared TxState = iota
	TxRenamed
	TxBacklinksWriting
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxPrepared:
		return "prepared"
	case TxRenamed:
		return "renamed"
	case TxBacklinksWriting:
		return "backlinks_writing"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// RenameResult describes a committed rename or move.
type RenameResult struct {
	TxID    string
	OldPath string
	NewPath string
	IsDir   bool
	// Rewritten lists the pages whose links were rewritten, at their
	// post-rename paths.
	Rewritten []string
}

// rewrite is a backlink file whose content changes with the rename.
type rewrite struct {
	path     string
	original []byte
	updated  []byte
}

// undo reverts one completed step.
type undo struct {
	desc  string
	apply func() error
}

type tx struct {
	id      string
	from    string
	to      string
	state   TxState
	undoLog []undo
}

func (t *tx) advance(w *Writer, s TxState) {
	t.state = s
	w.logger.Debug("writer: tx state",
		slog.String("tx", t.id),
		slog.String("state", s.String()))
}

// relocate renames from to to and rewrites the links of backlinks as a
// single unit. On failure every completed step is undone in reverse order
// and the original error is returned. If undoing fails too the error is an
// *apperr.CriticalError.
func (w *Writer) relocate(from, to string, isDir bool, backlinks []string) (*RenameResult, error) {
	t := &tx{id: w.newTxID(), from: from, to: to, state: TxPrepared}

	if err := w.vacantFor(from, to); err != nil {
		return nil, err
	}

	var rewrites []rewrite
	if !isDir && parser.IsMarkdown(from) {
		var err error
		rewrites, err = w.planRewrites(from, to, backlinks)
		if err != nil {
			return nil, fmt.Errorf("writer: rename %s: %w", from, err)
		}
	}

	if err := w.fs.Rename(from, to); err != nil {
		return nil, w.rollback(t, err)
	}
	t.undoLog = append(t.undoLog, undo{
		desc:  "rename " + to + " back to " + from,
		apply: func() error { return w.fs.Rename(to, from) },
	})
	t.advance(w, TxRenamed)

	t.advance(w, TxBacklinksWriting)
	rewritten := make([]string, 0, len(rewrites))
	for _, rw := range rewrites {
		if err := w.fs.Write(rw.path, rw.updated); err != nil {
			return nil, w.rollback(t, err)
		}
		t.undoLog = append(t.undoLog, undo{
			desc:  "restore " + rw.path,
			apply: func() error { return w.fs.Write(rw.path, rw.original) },
		})
		rewritten = append(rewritten, rw.path)
	}

	t.advance(w, TxCommitted)
	w.metrics.IncRename(metrics.OutcomeCommitted)
	w.logger.Info("writer: rename committed",
		slog.String("tx", t.id),
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("rewritten", len(rewritten)))
	return &RenameResult{
		TxID:      t.id,
		OldPath:   from,
		NewPath:   to,
		IsDir:     isDir,
		Rewritten: rewritten,
	}, nil
}

// planRewrites reads every backlink source and computes its content with
// links to the old stem pointed at the new one. Sources whose content does
// not change are left out. A page linking to itself is written at its
// post-rename path.
func (w *Writer) planRewrites(from, to string, backlinks []string) ([]rewrite, error) {
	oldStem, newStem := parser.Stem(from), parser.Stem(to)
	if oldStem == newStem {
		return nil, nil
	}
	sources := make([]string, 0, len(backlinks))
	for _, p := range backlinks {
		abs, err := w.fs.Abs(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, abs)
	}
	slices.Sort(sources)
	sources = slices.Compact(sources)

	var out []rewrite
	for _, src := range sources {
		content, err := w.fs.Read(src)
		if err != nil {
			return nil, err
		}
		updated, changed := parser.RewriteWikilinks(string(content), oldStem, newStem)
		if !changed {
			continue
		}
		target := src
		if src == from {
			target = to
		}
		out = append(out, rewrite{path: target, original: content, updated: []byte(updated)})
	}
	return out, nil
}

// rollback walks the undo log backwards. Every entry is attempted even when
// an earlier one fails.
func (w *Writer) rollback(t *tx, cause error) error {
	var failures []error
	for i := len(t.undoLog) - 1; i >= 0; i-- {
		u := t.undoLog[i]
		if err := u.apply(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", u.desc, err))
		}
	}
	if len(failures) > 0 {
		w.metrics.IncRename(metrics.OutcomeCritical)
		w.logger.Error("writer: CRITICAL rollback failed, vault may be inconsistent",
			slog.String("tx", t.id),
			slog.String("from", t.from),
			slog.String("to", t.to),
			slog.String("state", t.state.String()),
			slog.String("cause", cause.Error()),
			slog.Int("rollback_failures", len(failures)))
		return &apperr.CriticalError{TxID: t.id, Cause: cause, Rollback: failures}
	}
	failedAt := t.state
	t.advance(w, TxRolledBack)
	w.metrics.IncRename(metrics.OutcomeRolledBack)
	w.logger.Warn("writer: rename rolled back",
		slog.String("tx", t.id),
		slog.String("from", t.from),
		slog.String("to", t.to),
		slog.String("failed_at", failedAt.String()),
		slog.String("error", cause.Error()))
	return fmt.Errorf("writer: rename %s: %w", t.from, cause)
}
