package relay

import (
	"time"

	"golang.org/x/time/rate"
)

// Limits bounds the inbound message rate of a single link. A zero Rate disables limiting.
type Limits struct {
	Rate  rate.Limit
	Burst int
}

// PerSecond builds Limits allowing n messages per second with the given burst.
func PerSecond(n float64, burst int) Limits {
	if n <= 0 {
		return Limits{}
	}
	return Limits{Rate: rate.Every(time.Duration(float64(time.Second) / n)), Burst: burst}
}

func (l Limits) newLimiter() *rate.Limiter {
	if l.Rate <= 0 {
		return nil
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(l.Rate, burst)
}
