package fileapi

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one node of the file tree.
type Entry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Dirname  string  `json:"dirname"`
	IsRoot   bool    `json:"isRoot"`
	IsHidden bool    `json:"isHidden"`
	Children []Entry `json:"children,omitempty"`
	dir      bool
}

// Tree lists everything below root. Directories come before files, each
// group sorted by name. Dotfiles and node_modules are flagged hidden but
// still listed. Symbolic links are not followed.
func Tree(root string) ([]Entry, error) {
	return walk(root, root)
}

func walk(root, dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		name := item.Name()
		e := Entry{
			Name:     name,
			Path:     filepath.Join(dir, name),
			Dirname:  dir,
			IsRoot:   dir == root,
			IsHidden: strings.HasPrefix(name, ".") || name == "node_modules",
		}
		if item.IsDir() {
			e.dir = true
			if e.Children, err = walk(root, e.Path); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].dir != entries[j].dir {
			return entries[i].dir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}
