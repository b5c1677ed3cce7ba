package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the fragment suffixes walked when none are configured.
var DefaultExtensions = []string{".nc"}

// Discover expands files and directories into a sorted, de-duplicated list
// of fragment paths. Files named explicitly are kept whatever their suffix.
func Discover(paths, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		key := filepath.Clean(p)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		files = append(files, p)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %q: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(path, exts) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", root, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

func hasExtension(path string, exts []string) bool {
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
