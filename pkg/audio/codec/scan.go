// ABOUTME: Directory scan for files the registry recognises by extension
// ABOUTME: Lists supported audio files, optionally descending into subdirectories
package codec

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// Found is one file matched by Scan.
type Found struct {
	Path  string
	Codec Descriptor
}

// Scan lists files under dir whose extension names a registered codec.
// Hidden directories are skipped when recursing. Results are sorted by path.
func (r *Registry) Scan(dir string, recursive bool) ([]Found, error) {
	var out []Found
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == dir {
				return nil
			}
			if !recursive || d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) == "" {
			return nil
		}
		if desc, ok := r.ByExtension(p); ok {
			out = append(out, Found{Path: p, Codec: desc})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
