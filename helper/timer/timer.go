package timer

import (
	"context"
	"math/rand/v2"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter <= 0 {
		return d
	}

	// Never let the jitter push the tick to zero or below.
	maxJitter := min(j.MaxJitter, d-1)
	if maxJitter <= 0 {
		return d
	}

	return d + (time.Duration(rand.Int64N(int64(2*maxJitter))) - maxJitter)
}

// RunWithTicker runs f every interval until ctx is cancelled. An error from
// f is logged and the loop carries on with the next tick.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return nil
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Warnf("RunWithTicker: %s returned error: %v", funcName, err)
			}
		}
	}
}
