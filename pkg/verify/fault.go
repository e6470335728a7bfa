package verify

import (
	"fmt"
	"strings"

	"keelstore/pkg/primitives"
)

// Fault records one structural inconsistency: the resource it belongs to,
// what went wrong, and where, as the path of edge pages from the root down
// to the faulting level.
type Fault struct {
	ResourceName string
	Description  string
	Path         []primitives.PageAddress
	Level        int
	Depth        int
	Position     int
}

func (f Fault) String() string {
	var b strings.Builder
	b.WriteString("  Tree ")
	b.WriteString(f.ResourceName)
	b.WriteString(" ")
	b.WriteString(f.Description)
	b.WriteString(" (path ")
	for i := len(f.Path) - 1; i >= 0; i-- {
		if i < len(f.Path)-1 {
			b.WriteString("->")
		}
		fmt.Fprintf(&b, "%d", f.Path[i])
	}
	if f.Position != 0 {
		fmt.Fprintf(&b, ":%d", f.Position)
	}
	b.WriteString(")")
	if f.Depth >= 0 {
		fmt.Fprintf(&b, " depth=%d", f.Depth)
	}
	return b.String()
}

// IndexHole names a page reachable by a right-sibling pointer at some level
// whose parent pointer is missing from the level above.
type IndexHole struct {
	TreeHandle primitives.TreeHandle
	Page       primitives.PageAddress
	Level      int
}

// HoleSink is the cleanup collaborator that accepts index-hole repairs. The
// verifier itself never mutates index pages.
type HoleSink interface {
	Offer(hole IndexHole) bool
}
