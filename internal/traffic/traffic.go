// Package traffic tracks which payloads the producer has been sending
// recently, using a sliding-window top-k sketch.
package traffic

import (
	"sync"
	"time"

	"github.com/keilerkonzept/topk/heap"
	"github.com/keilerkonzept/topk/sliding"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	K      int
	Window time.Duration
	Tick   time.Duration
	// FullRefresh is how often the ranking is rebuilt from the sketch.
	// Between rebuilds only the counts of the visible entries are refreshed.
	// Zero means DefaultConfig.FullRefresh.
	FullRefresh time.Duration
}

var DefaultConfig = Config{
	K:           8,
	Window:      time.Minute,
	Tick:        time.Second,
	FullRefresh: 2 * time.Second,
}

type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	sketch *sliding.Sketch
	last   time.Time
	ranker *Ranker
}

func New(cfg Config) *Tracker {
	if cfg.K < 1 {
		cfg.K = DefaultConfig.K
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig.Tick
	}
	if cfg.FullRefresh <= 0 {
		cfg.FullRefresh = DefaultConfig.FullRefresh
	}
	if cfg.Window < cfg.Tick {
		cfg.Window = cfg.Tick
	}
	ticks := int(cfg.Window / cfg.Tick)
	return &Tracker{
		cfg: cfg,
		sketch: sliding.New(cfg.K, ticks,
			sliding.WithWidth(256),
			sliding.WithDepth(3),
		),
		ranker: NewRanker(cfg.K, cfg.FullRefresh, 0),
	}
}

// Observe counts one payload seen at now.
func (t *Tracker) Observe(payload string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(now)
	t.sketch.Incr(payload)
}

// Top returns up to K payloads by count within the window. visible is how
// many of them the caller shows; between full rebuilds only those are
// recounted and re-sorted. 0 means all.
func (t *Tracker) Top(now time.Time, visible int) []heap.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(now)
	items, full := t.ranker.Refresh(now, visible,
		t.sketch.SortedSlice,
		func(items []heap.Item, limit int) {
			for i := 0; i < limit; i++ {
				items[i].Count = t.sketch.Count(items[i].Item)
			}
		},
	)
	if full {
		log.WithField("items", len(items)).Trace("traffic ranking rebuilt")
	}
	out := items[:0]
	for _, it := range items {
		if it.Count > 0 {
			out = append(out, it)
		}
	}
	return out
}

func (t *Tracker) advance(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.Truncate(t.cfg.Tick)
	if t.last.IsZero() {
		t.last = now
		return
	}
	if n := int(now.Sub(t.last) / t.cfg.Tick); n > 0 {
		t.sketch.Ticks(n)
		t.last = now
	}
}
