package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker reports extraction progress for one document.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	Done()
}

// BarTracker renders an interactive progress bar via mpb. Use it when
// stderr is a terminal.
type BarTracker struct {
	container *mpb.Progress
	bar       *mpb.Bar
	stage     *atomic.Value
	counters  *atomic.Value
}

// NewBar creates a bar tracker labeled with the document name.
func NewBar(name string) *BarTracker {
	p := mpb.New(mpb.WithWidth(60))
	stage := &atomic.Value{}
	stage.Store("")
	counters := &atomic.Value{}
	counters.Store("")
	bar := p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name+" ", decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				return stage.Load().(string) + counters.Load().(string)
			}),
		),
	)
	return &BarTracker{container: p, bar: bar, stage: stage, counters: counters}
}

func (t *BarTracker) SetStage(stage string) {
	t.stage.Store(stage)
	t.bar.SetCurrent(0)
}

func (t *BarTracker) SetProgress(current, total int64) {
	if total > 0 {
		pct := int64(float64(current) / float64(total) * 100)
		t.bar.SetTotal(100, false)
		t.bar.SetCurrent(pct)
	}
}

func (t *BarTracker) SetCounter(name string, value int64) {
	t.counters.Store(fmt.Sprintf("  %s: %s", name, humanCount(value)))
}

func (t *BarTracker) Done() {
	t.bar.SetTotal(100, false)
	t.bar.SetCurrent(100)
	t.bar.Abort(false)
	t.container.Wait()
}

// Noop discards all progress updates.
type Noop struct{}

func (Noop) SetStage(string)          {}
func (Noop) SetProgress(int64, int64) {}
func (Noop) SetCounter(string, int64) {}
func (Noop) Done()                    {}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func humanCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
