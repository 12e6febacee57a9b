package segment

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// throttledWriter paces writes through a token bucket measured in bytes and
// stops as soon as ctx is done.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func newThrottledWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	return &throttledWriter{ctx: ctx, w: w, limiter: limiter}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}
	burst := 0
	if t.limiter != nil {
		burst = t.limiter.Burst()
	}
	if burst <= 0 {
		return t.w.Write(p)
	}
	written := 0
	for written < len(p) {
		n := min(len(p)-written, burst)
		if err := t.limiter.WaitN(t.ctx, n); err != nil {
			return written, err
		}
		m, err := t.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
