package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dmagent/pkg/schema"
)

const (
	jsonlPrefix = "llm_log_"
	jsonlExt    = ".jsonl"
)

// JSONLLog appends interaction records to one JSON-lines file per UTC day,
// named llm_log_YYYY-MM-DD.jsonl.
type JSONLLog struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLLog creates a log writing under dir. The directory is created on
// first append.
func NewJSONLLog(dir string) *JSONLLog {
	return &JSONLLog{dir: dir}
}

// FileFor returns the file a record stamped at ts is written to.
func (l *JSONLLog) FileFor(ts time.Time) string {
	return filepath.Join(l.dir, jsonlPrefix+ts.UTC().Format("2006-01-02")+jsonlExt)
}

// Append implements core.InteractionLog.
func (l *JSONLLog) Append(ctx context.Context, rec schema.Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(l.FileFor(rec.Timestamp), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write interaction: %w", err)
	}
	return f.Close()
}

// Recent returns up to limit records, newest first. Lines that do not parse
// are skipped.
func (l *JSONLLog) Recent(ctx context.Context, limit int) ([]schema.Interaction, error) {
	out := []schema.Interaction{}
	if limit < 1 {
		return out, nil
	}

	files, err := filepath.Glob(filepath.Join(l.dir, jsonlPrefix+"*"+jsonlExt))
	if err != nil {
		return nil, err
	}
	// Dated names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readJSONL(path)
		if err != nil {
			return nil, err
		}
		for i := len(recs) - 1; i >= 0; i-- {
			out = append(out, recs[i])
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func readJSONL(path string) ([]schema.Interaction, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var recs []schema.Interaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var rec schema.Interaction
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return recs, nil
}
