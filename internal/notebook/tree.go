package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jxucoder/bashnotes/pkg/model"
)

// BuildTree lists root recursively. Entries are sorted by name and their
// paths are slash separated and relative to root. Directories whose name
// starts with a dot are skipped.
func BuildTree(root string) ([]model.FileTree, error) {
	return walk(root, "")
}

func walk(root, rel string) ([]model.FileTree, error) {
	entries, err := os.ReadDir(filepath.Join(root, rel))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", filepath.Join(root, rel), err)
	}

	tree := make([]model.FileTree, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(rel, name)
		node := model.FileTree{Name: name, Path: filepath.ToSlash(path)}

		if e.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			children, err := walk(root, path)
			if err != nil {
				return nil, err
			}
			node.Dir = true
			node.Children = children
		}
		tree = append(tree, node)
	}
	return tree, nil
}
