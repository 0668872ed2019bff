package flow

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type point struct {
	ts        time.Time
	offered   int64
	admitted  int64
	dropped   int64
	harvested int64
	retained  int64
}

// Internal aggregates and snapshot loop

type partAgg struct {
	offers     atomic.Int64 // admitted offers for this partition
	drops      atomic.Int64 // rejected offers for this partition
	harvested  atomic.Int64 // samples drained from this partition
	lastUpdate atomic.Int64 // unix nano
}

var (
	agg sync.Map // map[uint64]*partAgg

	// Unsampled global baselines for the windowed KPIs.
	offeredAll   atomic.Int64
	admittedAll  atomic.Int64
	droppedAll   atomic.Int64
	harvestedAll atomic.Int64
	retainedAll  atomic.Int64

	snapMu   sync.Mutex
	snapStop chan struct{}
	snapDone chan struct{}
	currCfg  atomic.Value // stores Config

	// rolling window points for KPIs (protected by windowMu)
	windowPoints []point
	windowMu     sync.Mutex
)

func startOrUpdateSnapshots(cfg Config) {
	snapMu.Lock()
	defer snapMu.Unlock()

	currCfg.Store(cfg)

	// Stop previous loop if running
	if snapStop != nil {
		close(snapStop)
		<-snapDone
		snapStop, snapDone = nil, nil
	}
	if !cfg.Enabled || cfg.LogInterval <= 0 {
		return
	}
	// Start new loop
	snapStop = make(chan struct{})
	snapDone = make(chan struct{})
	go snapshotLoop(snapStop, snapDone)
}

func snapshotLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	cfgAny := currCfg.Load()
	cfg, _ := cfgAny.(Config)
	// cfg.LogInterval is guaranteed > 0 by the starter
	ticker := time.NewTicker(cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishSnapshot()
		case <-stop:
			return
		}
	}
}

func publishSnapshot() {
	// Load current config snapshot safely
	cfgAny := currCfg.Load()
	cfg, _ := cfgAny.(Config)
	// Snapshot aggregates and evict idle partitions beyond 2x Window
	type row struct {
		partHash  uint64
		offers    int64
		drops     int64
		harvested int64
	}
	rows := make([]row, 0, 1024)
	var tracked int
	idleTTL := cfg.Window * 2
	cutoff := time.Now().Add(-idleTTL).UnixNano()
	agg.Range(func(k, v any) bool {
		pa := v.(*partAgg)
		last := pa.lastUpdate.Load()
		if last > 0 && last < cutoff {
			agg.Delete(k)
			return true
		}
		tracked++
		rows = append(rows, row{
			partHash:  k.(uint64),
			offers:    pa.offers.Load(),
			drops:     pa.drops.Load(),
			harvested: pa.harvested.Load(),
		})
		return true
	})

	// Pick TopN by drops, then by offers desc
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].drops == rows[j].drops {
			return rows[i].offers > rows[j].offers
		}
		return rows[i].drops > rows[j].drops
	})
	if len(rows) > cfg.TopN {
		rows = rows[:cfg.TopN]
	}

	// Windowed KPIs using rolling points
	now := time.Now()
	pt := point{
		ts:        now,
		offered:   offeredAll.Load(),
		admitted:  admittedAll.Load(),
		dropped:   droppedAll.Load(),
		harvested: harvestedAll.Load(),
		retained:  retainedAll.Load(),
	}
	// Protect windowPoints against concurrent publisher/test calls
	windowMu.Lock()
	windowPoints = append(windowPoints, pt)
	// prune old
	winStart := now.Add(-cfg.Window)
	idx := 0
	for idx < len(windowPoints) && windowPoints[idx].ts.Before(winStart) {
		idx++
	}
	if idx > 0 {
		windowPoints = windowPoints[idx:]
	}
	old := windowPoints[0]
	windowMu.Unlock()

	dOffered := pt.offered - old.offered
	dAdmitted := pt.admitted - old.admitted
	dDropped := pt.dropped - old.dropped
	dHarvested := pt.harvested - old.harvested
	dRetained := pt.retained - old.retained
	dropWindow := float64(dDropped) / float64(max64(1, dOffered))
	// Set KPI gauge
	dropRatioGauge.Set(dropWindow)

	summary := fmt.Sprintf("flow summary: drop_ratio=%.3f offered=%d admitted=%d dropped=%d harvested=%d retained=%d tracked=%d sample=%.2f topN=%d",
		dropWindow, dOffered, dAdmitted, dDropped, dHarvested, dRetained, tracked, cfg.SampleRate, cfg.TopN)

	var topLine string
	if len(rows) > 0 {
		first := rows[0]
		topLine = fmt.Sprintf("top partition=%s drops=%d offers=%d harvested=%d",
			shortHash(first.partHash, cfg.KeyHashLen), first.drops, first.offers, first.harvested)
	} else {
		topLine = "top partition: (none yet)"
	}

	ts := time.Now().Format(time.RFC3339)
	fmt.Printf("[%s] %s\n", ts, summary)
	fmt.Printf("  - %s\n", topLine)
}

func shortHash(h uint64, n int) string {
	if n <= 0 {
		n = 8
	}
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(h & 0xff)
		h >>= 8
	}
	s := hex.EncodeToString(b) // 16 hex chars
	if n < len(s) {
		return s[:n]
	}
	return s
}

func sampleRate() float64 {
	thr := samplingThreshold.Load()
	return float64(thr) / float64(^uint64(0))
}

// --- recording helpers (called from flow.go) ---

func aggRecordOffer(partHash uint64) {
	pa := getAgg(partHash)
	pa.offers.Add(1)
	pa.lastUpdate.Store(time.Now().UnixNano())
}

func aggRecordDrop(partHash uint64) {
	pa := getAgg(partHash)
	pa.drops.Add(1)
	pa.lastUpdate.Store(time.Now().UnixNano())
}

func aggRecordHarvest(partHash uint64, n int64) {
	pa := getAgg(partHash)
	pa.harvested.Add(n)
	pa.lastUpdate.Store(time.Now().UnixNano())
}

func getAgg(partHash uint64) *partAgg {
	if v, ok := agg.Load(partHash); ok {
		return v.(*partAgg)
	}
	pa := &partAgg{}
	actual, _ := agg.LoadOrStore(partHash, pa)
	return actual.(*partAgg)
}

// Utilities
func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
