package state

import (
	"database/sql"
	"strings"
)

// KeyIter is a lazy, finite, non-restartable stream of distinct terminal
// segments under a prefix. It must be closed when the caller is done,
// whether or not it was fully drained.
type KeyIter struct {
	rows     *sql.Rows
	stripLen int
	last     string
	haveLast bool
	err      error
}

// Next advances the iterator, returning the next distinct segment and
// true, or ("", false) once exhausted or on error (check Err).
func (k *KeyIter) Next() (string, bool) {
	for {
		if !k.rows.Next() {
			k.err = k.rows.Err()
			return "", false
		}
		var path string
		var deleted bool
		if err := k.rows.Scan(&path, &deleted); err != nil {
			k.err = err
			return "", false
		}
		if deleted || len(path) < k.stripLen {
			continue
		}
		rest := path[k.stripLen:]
		seg := rest
		if idx := strings.IndexByte(rest, '.'); idx >= 0 {
			seg = rest[:idx]
		}
		if seg == "" {
			continue
		}
		if k.haveLast && seg == k.last {
			continue // already yielded this terminal segment
		}
		k.last = seg
		k.haveLast = true
		return seg, true
	}
}

// Err returns the first error encountered, if any.
func (k *KeyIter) Err() error { return k.err }

// Close releases the underlying rows.
func (k *KeyIter) Close() error { return k.rows.Close() }
