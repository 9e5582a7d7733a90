package observer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoints persists the last-consumed line count per source so restarts
// do not replay events. Counts are non-decreasing between resets. Writes use
// atomic file replacement (write to .tmp, then rename) so the file is never
// left in a partial state.
type Checkpoints struct {
	path   string
	counts map[string]int
}

// LoadCheckpoints reads the checkpoint file, starting empty if absent.
func LoadCheckpoints(path string) (*Checkpoints, error) {
	cp := &Checkpoints{path: path, counts: make(map[string]int)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	if err := json.Unmarshal(data, &cp.counts); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoints: %w", err)
	}
	return cp, nil
}

// Get returns the consumed line count for a source.
func (c *Checkpoints) Get(source string) int {
	return c.counts[source]
}

// Set records the consumed line count for a source and persists.
// Counts never move backwards outside Reset.
func (c *Checkpoints) Set(source string, count int) error {
	if count < c.counts[source] {
		return nil
	}
	c.counts[source] = count
	return c.flush()
}

// Drop forgets one source (used when its file is truncated) and persists.
func (c *Checkpoints) Drop(source string) error {
	delete(c.counts, source)
	return c.flush()
}

// Reset clears every source and persists.
func (c *Checkpoints) Reset() error {
	c.counts = make(map[string]int)
	return c.flush()
}

func (c *Checkpoints) flush() error {
	data, err := json.MarshalIndent(c.counts, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoints dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return os.Rename(tmp, c.path)
}
