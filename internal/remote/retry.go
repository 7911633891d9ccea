package remote

import (
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/models"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: models.DefaultRemoteMaxAttempts,
		BaseDelay:   models.DefaultRemoteBaseDelay,
		MaxDelay:    models.DefaultRemoteMaxDelay,
		Jitter:      models.DefaultRemoteJitter,
	}
}

func PolicyFromConfig(cfg config.RemoteConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		p.Jitter = cfg.Jitter
	}
	return p
}

// NextDelay returns the wait after the given 0-based attempt failed:
// min(base*2^attempt, max) plus jitter*r of that, never above max.
// r is expected in [0, 1).
func (p RetryPolicy) NextDelay(attempt int, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 && r > 0 {
		d += time.Duration(float64(d) * p.Jitter * r)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
