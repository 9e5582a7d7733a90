package exithandler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// runningSignals tracks which (strategy, code) pairs already have an exit
// signal in flight. The set is persisted after every change so a restart
// cannot emit a second exit for the same position.
type runningSignals struct {
	path string
	set  map[int]map[string]bool
}

func loadRunningSignals(path string) (*runningSignals, error) {
	r := &runningSignals{path: path, set: make(map[int]map[string]bool)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read exit checkpoints: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal exit checkpoints: %w", err)
	}
	for key, codes := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("exit checkpoints: bad strategy key %q", key)
		}
		r.set[id] = make(map[string]bool, len(codes))
		for _, code := range codes {
			r.set[id][code] = true
		}
	}
	return r, nil
}

func (r *runningSignals) has(strategy int, code string) bool {
	return r.set[strategy][code]
}

func (r *runningSignals) add(strategy int, code string) error {
	if r.set[strategy] == nil {
		r.set[strategy] = make(map[string]bool)
	}
	r.set[strategy][code] = true
	return r.flush()
}

func (r *runningSignals) reset() error {
	r.set = make(map[int]map[string]bool)
	return r.flush()
}

func (r *runningSignals) flush() error {
	raw := make(map[string][]string, len(r.set))
	for id, codes := range r.set {
		key := strconv.Itoa(id)
		for code := range codes {
			raw[key] = append(raw[key], code)
		}
	}
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal exit checkpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoints dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write exit checkpoints: %w", err)
	}
	return os.Rename(tmp, r.path)
}
