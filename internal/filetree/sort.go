package filetree

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/example/site-scaffolder/internal/models"
)

// Sort orders every level of tree in place: a folder named "src" first, then
// the other folders, then files, each group by collated name.
func Sort(tree []*models.FileNode) {
	// Collators keep internal buffers and are not safe for concurrent use.
	c := collate.New(language.Und)
	sortLevel(c, tree)
}

func sortLevel(c *collate.Collator, level []*models.FileNode) {
	slices.SortStableFunc(level, func(a, b *models.FileNode) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		if n := c.CompareString(a.Name, b.Name); n != 0 {
			return n
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	for _, n := range level {
		if n.IsFolder() {
			sortLevel(c, n.Children)
		}
	}
}

func rank(n *models.FileNode) int {
	switch {
	case n.IsFolder() && n.Name == "src":
		return 0
	case n.IsFolder():
		return 1
	default:
		return 2
	}
}
