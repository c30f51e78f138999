// Package lifecycle holds process-wide gateway state shared by handlers.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle tracks graceful-shutdown draining. While draining, readiness fails
// and new calls and streams are refused; calls already in progress continue.
// A nil *Lifecycle is never draining.
type Lifecycle struct {
	// drainingSince is unix nanoseconds, zero when serving.
	drainingSince atomic.Int64
}

// SetDraining enters or leaves draining. Entering twice keeps the first start
// time.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.drainingSince.Store(0)
		return
	}
	l.drainingSince.CompareAndSwap(0, time.Now().UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	return !l.DrainingSince().IsZero()
}

// DrainingSince returns when draining started, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
