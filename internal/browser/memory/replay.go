package memory

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type archivedPage struct {
	path    string
	modTime time.Time
}

// FromDir builds a Session over archived pages below dir. Both <entry id>.html files and the
// archive layout <entry id>/<digest>.html (at any depth) are accepted; when an entry has several
// pages the newest one is served. urlFor maps an entry id to the URL the page is served under.
// The ids found are returned in ascending order.
func FromDir(dir string, urlFor func(int64) string) (*Session, []int64, error) {
	latest := map[int64]archivedPage{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".html" {
			return nil
		}
		id, ok := archivedEntryID(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		cur, seen := latest[id]
		if !seen || info.ModTime().After(cur.modTime) {
			latest[id] = archivedPage{path: path, modTime: info.ModTime()}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read replay dir: %w", err)
	}

	session := New(nil)
	ids := slices.Sorted(maps.Keys(latest))
	for _, id := range ids {
		body, err := os.ReadFile(latest[id].path)
		if err != nil {
			return nil, nil, fmt.Errorf("read archived page %s: %w", latest[id].path, err)
		}
		session.AddPage(urlFor(id), &Page{HTML: string(body)})
	}
	return session, ids, nil
}

// archivedEntryID reads the entry id from <id>.html or from the parent directory of <digest>.html.
func archivedEntryID(path string) (int64, bool) {
	if id, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(path), ".html"), 10, 64); err == nil {
		return id, true
	}
	id, err := strconv.ParseInt(filepath.Base(filepath.Dir(path)), 10, 64)
	return id, err == nil
}
