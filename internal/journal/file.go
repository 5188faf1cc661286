package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// File appends records to a local file, one JSON object per line or one YAML
// document per record. Existing records are indexed on open so an id is
// never written twice, including across restarts.
type File struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	encode func(Record) ([]byte, error)
	index  *Memory
}

// OpenJSONL opens or creates a JSON-lines journal.
func OpenJSONL(path string) (*File, error) {
	return openFile(path, decodeJSONL, func(rec Record) ([]byte, error) {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	})
}

// OpenYAML opens or creates a multi-document YAML journal.
func OpenYAML(path string) (*File, error) {
	return openFile(path, decodeYAML, func(rec Record) ([]byte, error) {
		data, err := yaml.Marshal(rec)
		if err != nil {
			return nil, err
		}
		return append([]byte("---\n"), data...), nil
	})
}

func openFile(path string, decode func(io.Reader) ([]Record, error), encode func(Record) ([]byte, error)) (*File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	existing, err := decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	index := NewMemory()
	for _, rec := range existing {
		index.add(rec)
	}
	return &File{path: path, file: f, encode: encode, index: index}, nil
}

func decodeJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func decodeYAML(r io.Reader) ([]Record, error) {
	var out []Record
	dec := yaml.NewDecoder(r)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.ID != "" {
			out = append(out, rec)
		}
	}
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// Append writes rec unless its id was already journaled.
func (f *File) Append(_ context.Context, rec Record) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return false, ErrClosed
	}
	if f.index.has(rec.ID) {
		return false, nil
	}
	data, err := f.encode(rec)
	if err != nil {
		return false, fmt.Errorf("journal: encode %s: %w", rec.ID, err)
	}
	if _, err := f.file.Write(data); err != nil {
		return false, fmt.Errorf("journal: write %s: %w", rec.ID, err)
	}
	f.index.add(rec)
	return true, nil
}

// Recent delegates to the in-memory index.
func (f *File) Recent(ctx context.Context, instrument string, limit int) ([]Record, error) {
	return f.index.Recent(ctx, instrument, limit)
}

// Between delegates to the in-memory index.
func (f *File) Between(ctx context.Context, instrument string, from, to time.Time) ([]Record, error) {
	return f.index.Between(ctx, instrument, from, to)
}

// Close syncs and closes the file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	syncErr := f.file.Sync()
	closeErr := f.file.Close()
	f.file = nil
	return errors.Join(syncErr, closeErr)
}

var _ Sink = (*File)(nil)
