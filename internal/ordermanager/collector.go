package ordermanager

import (
	"time"

	"equity-router/pkg/types"
)

// Collector batches validated signals per code so opposing buy and sell
// interest can cancel internally before anything reaches the broker.
//
// A code's batch is released when it has been quiet for the offset window,
// or unconditionally once it has been held for twice the window. The window
// depends on the clock: wide before the open, zero in session.
type Collector struct {
	debug bool
	now   func() time.Time

	batches map[string]*codeBatch
}

type codeBatch struct {
	buys, sells []types.Signal
	firstAdd    time.Time
	lastAdd     time.Time
}

// Batch is one released code batch.
type Batch struct {
	Code  string
	Buys  []types.Signal
	Sells []types.Signal
}

// OffsetPair is one internally-cancelled (buy, sell) quantity.
type OffsetPair struct {
	Buy  types.Signal
	Sell types.Signal
	Qty  int
}

func NewCollector(debug bool) *Collector {
	return &Collector{
		debug:   debug,
		now:     types.Now,
		batches: make(map[string]*codeBatch),
	}
}

// window returns the offset window for the current clock.
func (c *Collector) window(now time.Time) time.Duration {
	if c.debug {
		return 5 * time.Second
	}
	if now.Hour() < 9 {
		return 60 * time.Second
	}
	return 0
}

// Add enqueues a signal into its code batch.
func (c *Collector) Add(sig types.Signal) {
	now := c.now()
	b, ok := c.batches[sig.Code]
	if !ok {
		b = &codeBatch{firstAdd: now}
		c.batches[sig.Code] = b
	}
	if sig.Action == types.Buy {
		b.buys = append(b.buys, sig)
	} else {
		b.sells = append(b.sells, sig)
	}
	b.lastAdd = now
}

// Ripe removes and returns every batch whose offset window has expired.
func (c *Collector) Ripe() []Batch {
	now := c.now()
	w := c.window(now)
	var out []Batch
	for code, b := range c.batches {
		quiet := now.Sub(b.lastAdd) >= w
		held := now.Sub(b.firstAdd) >= 2*w
		if !quiet && !held {
			continue
		}
		out = append(out, Batch{Code: code, Buys: b.buys, Sells: b.sells})
		delete(c.batches, code)
	}
	return out
}

// Pending reports how many signals are currently held.
func (c *Collector) Pending() int {
	n := 0
	for _, b := range c.batches {
		n += len(b.buys) + len(b.sells)
	}
	return n
}

// Reset discards all held signals.
func (c *Collector) Reset() {
	c.batches = make(map[string]*codeBatch)
}

// Offset cancels buy quantity against sell quantity pairwise in arrival
// order. It returns the cancelled pairs plus the surviving signals with
// reduced quantities; fully-consumed signals are dropped. Total quantity is
// conserved: released + 2×offset == input.
func Offset(buys, sells []types.Signal) (pairs []OffsetPair, remBuys, remSells []types.Signal) {
	bq := make([]int, len(buys))
	for i, b := range buys {
		bq[i] = b.Quantity
	}
	sq := make([]int, len(sells))
	for i, s := range sells {
		sq[i] = s.Quantity
	}

	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		q := min(bq[i], sq[j])
		if q > 0 {
			pairs = append(pairs, OffsetPair{Buy: buys[i], Sell: sells[j], Qty: q})
			bq[i] -= q
			sq[j] -= q
		}
		if bq[i] == 0 {
			i++
		}
		if j < len(sells) && sq[j] == 0 {
			j++
		}
	}

	for k, b := range buys {
		if bq[k] > 0 {
			b.Quantity = bq[k]
			remBuys = append(remBuys, b)
		}
	}
	for k, s := range sells {
		if sq[k] > 0 {
			s.Quantity = sq[k]
			remSells = append(remSells, s)
		}
	}
	return pairs, remBuys, remSells
}
