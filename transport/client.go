package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/juju/errors"
	"golang.org/x/time/rate"
)

// base is the HTTP plumbing shared by the storage node and room clients.
type base struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func newBase(cfg Config) (base, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return base{}, errors.Trace(err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		if hc, err = newHTTPClient(cfg); err != nil {
			return base{}, errors.Trace(err)
		}
	}
	b := base{cfg: cfg, http: hc}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return b, nil
}

// do sends req and returns the status and a bounded body. A non-nil error
// means no response was read; it is ctx.Err() when the caller gave up.
func (b *base) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			return 0, nil, errors.Annotate(err, "rate limit")
		}
	}

	resp, err := b.http.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		if brokenConn(err) {
			b.http.CloseIdleConnections()
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, errors.Annotate(err, "reading response")
	}
	return resp.StatusCode, body, nil
}
