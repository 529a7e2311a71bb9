package fsops

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// Search limits. Bounded so a query over a huge tree cannot pin the server.
const (
	searchMaxHits  = 500
	searchMaxFiles = 200_000
)

// SearchResult is a bounded search outcome. Truncated is set when either
// limit stopped the scan early.
type SearchResult struct {
	Items     []Entry `json:"items"`
	Seen      int     `json:"seen"`
	Truncated bool    `json:"truncated"`
}

// Search scans the tree under rel for entries whose scope-relative path
// contains the query, case-insensitively. The scan is breadth-first with
// hidden (dot) directories visited last, so the likely matches surface
// before the noise. Symlinked directories are not descended into.
func Search(ctx context.Context, r *sandbox.Resolver, rel, query string) (res SearchResult, err error) {
	defer instrument("search")(&err)

	res.Items = make([]Entry, 0, 16)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return res, fault.InvalidArgument("empty search query")
	}

	baseAbs, err := r.Resolve(rel)
	if err != nil {
		return res, err
	}
	if info, err := os.Stat(baseAbs); err != nil {
		return res, mapOSError(err, rel)
	} else if !info.IsDir() {
		return res, fault.NotADirectory(rel)
	}

	type node struct {
		abs string
		rel string
	}
	normalQ := []node{{abs: baseAbs, rel: rel}}
	var hiddenQ []node

	isHidden := func(name string) bool { return strings.HasPrefix(name, ".") }

	for len(normalQ) > 0 || len(hiddenQ) > 0 {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		var n node
		if len(normalQ) > 0 {
			n, normalQ = normalQ[0], normalQ[1:]
		} else {
			n, hiddenQ = hiddenQ[0], hiddenQ[1:]
		}

		res.Seen++
		if res.Seen > searchMaxFiles {
			res.Truncated = true
			return res, nil
		}

		dirents, err := os.ReadDir(n.abs)
		if err != nil {
			continue
		}

		// ReadDir is sorted; split into visible-first buckets.
		var hidden []os.DirEntry
		process := func(d os.DirEntry) bool {
			res.Seen++
			if res.Seen > searchMaxFiles {
				res.Truncated = true
				return false
			}
			childRel := joinRel(n.rel, d.Name())
			if strings.Contains(strings.ToLower(childRel), query) {
				if info, err := d.Info(); err == nil {
					res.Items = append(res.Items, entryFor(childRel, info))
					if len(res.Items) >= searchMaxHits {
						res.Truncated = true
						return false
					}
				}
			}
			if d.IsDir() && d.Type()&os.ModeSymlink == 0 {
				child := node{abs: filepath.Join(n.abs, d.Name()), rel: childRel}
				if isHidden(d.Name()) {
					hiddenQ = append(hiddenQ, child)
				} else {
					normalQ = append(normalQ, child)
				}
			}
			return true
		}

		for _, d := range dirents {
			if isHidden(d.Name()) {
				hidden = append(hidden, d)
			} else if !process(d) {
				return res, nil
			}
		}
		for _, d := range hidden {
			if !process(d) {
				return res, nil
			}
		}
	}
	return res, nil
}
