package logx

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Throttled drops log lines above a token-bucket rate and reports how many
// were dropped on the next line that gets through.
//
// Safe for concurrent use. Allow() never blocks, so it can sit on a periodic
// hot path: the cost of a dropped line is one limiter check and one atomic add.
type Throttled struct {
	log        Logger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottled allows perSec lines per second with the given burst.
func NewThrottled(log Logger, perSec float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{log: log, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (t *Throttled) Warn(msg string, fields ...Field) { t.emit(zerolog.WarnLevel, msg, fields) }
func (t *Throttled) Error(msg string, fields ...Field) {
	t.emit(zerolog.ErrorLevel, msg, fields)
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (t *Throttled) Suppressed() uint64 { return t.suppressed.Load() }

func (t *Throttled) emit(level zerolog.Level, msg string, fields []Field) {
	if !t.log.Enabled(level) {
		return
	}
	if !t.lim.Allow() {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	t.log.write(2, level, msg, fields)
}
