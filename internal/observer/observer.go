// Package observer watches the broker-facing directory tree and turns file
// appends into typed events.
//
// Three sources are watched: upstream strategy signal logs, broker
// order/trade/position callback files, and (for reset housekeeping) the
// emitted SF31 order logs. Each source keeps a per-file line checkpoint so
// restarts do not replay events; a parse failure is logged and skipped but
// the checkpoint still advances, so one bad line cannot poison the stream.
//
// fsnotify provides the wakeups; a coarse poll ticker backs it up for
// filesystems that drop events.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"equity-router/internal/config"
	"equity-router/internal/ids"
	"equity-router/internal/refdata"
	"equity-router/pkg/types"
)

const (
	// positionFileMaxLines bounds the broker position file; past this the
	// file is truncated and its checkpoint dropped.
	positionFileMaxLines = 2000

	pollInterval = time.Second
)

// Observer is the file-watch worker. It owns its outbound channels; the
// engine drains them.
type Observer struct {
	cfg        config.ObserverConfig
	strategies *refdata.Strategies
	alloc      *ids.Allocator
	logger     *slog.Logger
	now        func() time.Time

	cps *Checkpoints

	signals   chan types.Signal
	orders    chan types.Order
	trades    chan types.Trade
	positions chan []types.SF31Position
}

// New builds the observer and prepares the watched directory tree.
func New(cfg config.ObserverConfig, strategies *refdata.Strategies, alloc *ids.Allocator, logger *slog.Logger) (*Observer, error) {
	dirs := []string{
		cfg.CheckpointsDir,
		filepath.Join(cfg.BasePath, cfg.XQSignalsDir),
		filepath.Join(cfg.BasePath, cfg.CallbackDir),
		filepath.Join(cfg.BasePath, cfg.SF31OrdersDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create observer dir: %w", err)
		}
	}
	cps, err := LoadCheckpoints(filepath.Join(cfg.CheckpointsDir, "observer.json"))
	if err != nil {
		return nil, err
	}
	return &Observer{
		cfg:        cfg,
		strategies: strategies,
		alloc:      alloc,
		logger:     logger.With("component", "observer"),
		now:        types.Now,
		cps:        cps,
		signals:    make(chan types.Signal, 256),
		orders:     make(chan types.Order, 256),
		trades:     make(chan types.Trade, 256),
		positions:  make(chan []types.SF31Position, 16),
	}, nil
}

// Signals is the upstream-signal event stream.
func (o *Observer) Signals() <-chan types.Signal { return o.signals }

// Orders is the broker order callback stream.
func (o *Observer) Orders() <-chan types.Order { return o.orders }

// Trades is the broker trade callback stream.
func (o *Observer) Trades() <-chan types.Trade { return o.trades }

// Positions is the broker position callback stream (whole batches).
func (o *Observer) Positions() <-chan []types.SF31Position { return o.positions }

func (o *Observer) signalsDir() string {
	return filepath.Join(o.cfg.BasePath, o.cfg.XQSignalsDir)
}

func (o *Observer) callbackPath(file string) string {
	return filepath.Join(o.cfg.BasePath, o.cfg.CallbackDir, file)
}

func (o *Observer) sf31Dir() string {
	return filepath.Join(o.cfg.BasePath, o.cfg.SF31OrdersDir)
}

// Run watches until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) {
	o.logger.Info("start observer")
	defer o.logger.Info("shutdown observer")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.logger.Error("fsnotify unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		for _, dir := range []string{o.signalsDir(), filepath.Join(o.cfg.BasePath, o.cfg.CallbackDir)} {
			if err := watcher.Add(dir); err != nil {
				o.logger.Warn("watch failed, relying on poll", "dir", dir, "error", err)
			}
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	o.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.scan(ctx)
		case ev, ok := <-fsEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				o.scan(ctx)
			}
		case err, ok := <-fsErrors(watcher):
			if ok && err != nil {
				o.logger.Warn("watch error", "error", err)
			}
		}
	}
}

func fsEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func fsErrors(w *fsnotify.Watcher) <-chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

func (o *Observer) scan(ctx context.Context) {
	o.scanSignals(ctx)
	o.scanOrders(ctx)
	o.scanTrades(ctx)
	o.scanPositions(ctx)
}

// scanSignals reads new lines of every strategy signal log. The filename
// (YYYYMMDD_<strategy>.log) keys the checkpoint and resolves the strategy;
// lines of an unknown strategy are ignored.
func (o *Observer) scanSignals(ctx context.Context) {
	entries, err := os.ReadDir(o.signalsDir())
	if err != nil {
		o.logger.Warn("read signals dir", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		date, name, err := parseSignalFilename(e.Name())
		if err != nil {
			o.logger.Warn("skip signal file", "file", e.Name(), "error", err)
			continue
		}
		lines, err := readLines(filepath.Join(o.signalsDir(), e.Name()))
		if err != nil {
			o.logger.Warn("read signal file", "file", e.Name(), "error", err)
			continue
		}
		from := o.cps.Get(e.Name())
		if from >= len(lines) {
			continue
		}
		strategyID := o.strategies.IDByName(name, 0)
		for _, line := range lines[from:] {
			if strategyID == 0 {
				o.logger.Warn("unknown strategy, line ignored", "file", e.Name(), "strategy", name)
				continue
			}
			sig, err := parseSignalLine(date, line)
			if err != nil {
				o.logger.Warn("bad signal line", "file", e.Name(), "line", line, "error", err)
				continue
			}
			sig.ID = o.alloc.SignalID()
			sig.StrategyID = strategyID
			select {
			case o.signals <- sig:
			case <-ctx.Done():
				return
			}
		}
		if err := o.cps.Set(e.Name(), len(lines)); err != nil {
			o.logger.Error("persist checkpoint", "source", e.Name(), "error", err)
		}
	}
}

func (o *Observer) scanOrders(ctx context.Context) {
	o.scanCallbackFile(ctx, o.cfg.OrderFile, func(line string) error {
		ord, err := parseOrderLine(line)
		if err != nil {
			return err
		}
		select {
		case o.orders <- ord:
		case <-ctx.Done():
		}
		return nil
	})
}

func (o *Observer) scanTrades(ctx context.Context) {
	o.scanCallbackFile(ctx, o.cfg.TradeFile, func(line string) error {
		tr, err := parseTradeLine(line)
		if err != nil {
			return err
		}
		select {
		case o.trades <- tr:
		case <-ctx.Done():
		}
		return nil
	})
}

func (o *Observer) scanCallbackFile(ctx context.Context, file string, handle func(string) error) {
	path := o.callbackPath(file)
	lines, err := readLines(path)
	if err != nil {
		if !os.IsNotExist(err) {
			o.logger.Warn("read callback file", "file", file, "error", err)
		}
		return
	}
	from := o.cps.Get(file)
	if from >= len(lines) {
		return
	}
	for _, line := range lines[from:] {
		if ctx.Err() != nil {
			return
		}
		if err := handle(line); err != nil {
			o.logger.Warn("bad callback line", "file", file, "line", line, "error", err)
		}
	}
	if err := o.cps.Set(file, len(lines)); err != nil {
		o.logger.Error("persist checkpoint", "source", file, "error", err)
	}
}

// scanPositions handles the broker position file. NUL-prefixed rows are
// broker padding and skipped. Once the file exceeds positionFileMaxLines it
// is truncated and the checkpoint dropped.
func (o *Observer) scanPositions(ctx context.Context) {
	path := o.callbackPath(o.cfg.PositionFile)
	lines, err := readLines(path)
	if err != nil {
		if !os.IsNotExist(err) {
			o.logger.Warn("read position file", "error", err)
		}
		return
	}
	if len(lines) > positionFileMaxLines {
		if err := os.Truncate(path, 0); err != nil {
			o.logger.Error("truncate position file", "error", err)
			return
		}
		if err := o.cps.Drop(o.cfg.PositionFile); err != nil {
			o.logger.Error("persist checkpoint", "source", o.cfg.PositionFile, "error", err)
		}
		o.logger.Info("position file truncated", "lines", len(lines))
		return
	}
	from := o.cps.Get(o.cfg.PositionFile)
	if from >= len(lines) {
		return
	}
	var batch []types.SF31Position
	for _, line := range lines[from:] {
		if strings.HasPrefix(line, "\x00") {
			continue
		}
		pos, err := parsePositionLine(o.now(), line)
		if err != nil {
			o.logger.Warn("bad position line", "line", line, "error", err)
			continue
		}
		batch = append(batch, pos)
	}
	if len(batch) > 0 {
		select {
		case o.positions <- batch:
		case <-ctx.Done():
			return
		}
	}
	if err := o.cps.Set(o.cfg.PositionFile, len(lines)); err != nil {
		o.logger.Error("persist checkpoint", "source", o.cfg.PositionFile, "error", err)
	}
}

// Reset clears all checkpoints, removes consumed signal files, and truncates
// the callback and SF31 order logs. Called by the engine at the daily resets.
func (o *Observer) Reset() {
	o.logger.Info("reset observer")

	if entries, err := os.ReadDir(o.signalsDir()); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
				if err := os.Remove(filepath.Join(o.signalsDir(), e.Name())); err != nil {
					o.logger.Warn("remove signal file", "file", e.Name(), "error", err)
				}
			}
		}
	}

	for _, file := range []string{o.cfg.OrderFile, o.cfg.TradeFile, o.cfg.PositionFile} {
		path := o.callbackPath(file)
		if _, err := os.Stat(path); err == nil {
			if err := os.Truncate(path, 0); err != nil {
				o.logger.Warn("truncate callback file", "file", file, "error", err)
			}
		}
	}

	_ = filepath.WalkDir(o.sf31Dir(), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".log") {
			return nil
		}
		if err := os.Truncate(path, 0); err != nil {
			o.logger.Warn("truncate sf31 log", "file", path, "error", err)
		}
		return nil
	})

	if err := o.cps.Reset(); err != nil {
		o.logger.Error("reset checkpoints", "error", err)
	}
}

// parseSignalFilename splits YYYYMMDD_<strategy>.log into its parts.
func parseSignalFilename(name string) (time.Time, string, error) {
	base := strings.TrimSuffix(name, ".log")
	datePart, strategy, ok := strings.Cut(base, "_")
	if !ok || strategy == "" {
		return time.Time{}, "", fmt.Errorf("invalid signal filename %q", name)
	}
	date, err := time.ParseInLocation("20060102", datePart, types.Taipei)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid signal filename %q: %w", name, err)
	}
	return date, strategy, nil
}

// readLines returns the complete lines of a file, excluding a trailing
// unterminated fragment only when the file does not end in a newline.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	s := string(data)
	complete := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, "\n")
	if !complete {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
