package executor

import (
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of one run's execution, matching
// spec.md's `{done, total, bytes_done, bytes_total, current_rel}` shape.
// The job name and run phase are layered on by the Engine, which wraps
// this with its own progress-event envelope before publishing to the UI
// collaborator.
type Progress struct {
	Done       int64
	Total      int64
	BytesDone  int64
	BytesTotal int64
	CurrentRel string
}

// progressEmitter rate-limits progress callbacks to at most maxPerSecond
// per second, per spec.md's "Event emission is rate-limited to at most
// 10/s" rule — a worker pool chewing through many small files should
// never flood a slow UI consumer. The done==total event always gets
// through regardless of the rate limit, so callers can rely on seeing
// the final 100% progress update.
type progressEmitter struct {
	onProgress func(Progress)
	minGap     time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

func newProgressEmitter(onProgress func(Progress), maxPerSecond int) *progressEmitter {
	if maxPerSecond <= 0 {
		maxPerSecond = 10
	}
	return &progressEmitter{
		onProgress: onProgress,
		minGap:     time.Second / time.Duration(maxPerSecond),
	}
}

func (p *progressEmitter) update(pr Progress) {
	if p == nil || p.onProgress == nil {
		return
	}
	now := time.Now()
	p.mu.Lock()
	sendNow := pr.Total == 0 || pr.Done >= pr.Total || now.Sub(p.lastSent) >= p.minGap
	if sendNow {
		p.lastSent = now
	}
	p.mu.Unlock()
	if sendNow {
		p.onProgress(pr)
	}
}

func (p *progressEmitter) stop() {}
