package progress

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const logInterval = 20 * time.Second

// LogTracker prints throttled status lines for non-TTY environments such as
// CI or piped output. No line is emitted more often than logInterval per
// stage change.
type LogTracker struct {
	log       zerolog.Logger
	start     time.Time
	stage     string
	lastLog   time.Time
	prevBytes int64
	prevTime  time.Time
}

// NewLog creates a line-based tracker writing through log.
func NewLog(log zerolog.Logger) *LogTracker {
	return &LogTracker{log: log, start: time.Now()}
}

func (t *LogTracker) SetStage(stage string) {
	t.stage = stage
	t.lastLog = time.Time{} // reset throttle so next update prints
	t.prevBytes = 0
	t.prevTime = time.Time{}
	t.log.Info().Msg(stage)
}

func (t *LogTracker) SetProgress(current, total int64) {
	now := time.Now()
	if now.Sub(t.lastLog) < logInterval {
		return
	}

	speed := ""
	if !t.prevTime.IsZero() {
		elapsed := now.Sub(t.prevTime).Seconds()
		if elapsed > 0 {
			mbps := float64(current-t.prevBytes) / elapsed / (1024 * 1024)
			speed = fmt.Sprintf("%.1f MB/s", mbps)
		}
	}
	t.prevBytes = current
	t.prevTime = now
	t.lastLog = now

	ev := t.log.Info().Str("stage", t.stage).Str("read", humanBytes(current))
	if total > 0 {
		pct := float64(current) / float64(total) * 100
		ev = ev.Str("total", humanBytes(total)).Str("pct", fmt.Sprintf("%.0f%%", pct))
	}
	if speed != "" {
		ev = ev.Str("speed", speed)
	}
	ev.Msg("progress")
}

func (t *LogTracker) SetCounter(name string, value int64) {
	if time.Since(t.lastLog) < logInterval {
		return
	}
	t.lastLog = time.Now()
	t.log.Info().Str("stage", t.stage).Str(name, humanCount(value)).Msg("progress")
}

func (t *LogTracker) Done() {
	elapsed := time.Since(t.start).Truncate(time.Second)
	t.log.Info().Str("elapsed", elapsed.String()).Msg("finished")
}
