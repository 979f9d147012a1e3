package hypervisor

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// rateLimitedLogger drops messages that arrive faster than its limiter
// allows. Used for warnings emitted from spin loops.
type rateLimitedLogger struct {
	entry *logrus.Entry
	limit *rate.Limiter
}

func newRateLimitedLogger(entry *logrus.Entry, every time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{
		entry: entry,
		limit: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (rl *rateLimitedLogger) Warnf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.entry.Warnf(format, v...)
	}
}

// componentLogger returns the base entry every log line of a System carries.
func componentLogger(l *logrus.Logger) *logrus.Entry {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", "hv")
}
