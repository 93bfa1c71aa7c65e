package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// indexable lists the extensions LoadDir reads as plain text.
var indexable = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// LoadResult reports what LoadDir indexed.
type LoadResult struct {
	Files  int
	Chunks int
}

// LoadDir indexes every text or markdown file under dir. Sources are named
// by their slash-separated path relative to dir.
func (i *Index) LoadDir(ctx context.Context, dir string) (LoadResult, error) {
	var res LoadResult
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !indexable[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		n, err := i.Add(ctx, filepath.ToSlash(rel), string(data))
		if err != nil {
			return err
		}
		res.Files++
		res.Chunks += n
		return nil
	})
	return res, err
}
