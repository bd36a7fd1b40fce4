package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// What happens to the remaining tags when a push fails.
type Policy string

const (

	// Stop launching pushes at the first failure and report it.
	PolicyFailFast Policy = "fail-fast"

	// Attempt every tag and report all failures together.
	PolicyBestEffort Policy = "best-effort"
)

// Outcome of publishing one tag.
type Published struct {
	Tag       string // Tag that was published.
	Reference string // Digest-qualified reference reported by the registry.
	Err       error  // Failure, nil on success.
	Skipped   bool   // Whether the push was never attempted.
}

// Pushes a committed image under every resolved tag.
type Publisher struct {
	registry    Registry      // Registry that opens the authenticated session.
	policy      Policy        // Failure policy.
	concurrency int           // Maximum number of pushes in flight.
	limiter     *rate.Limiter // Throttles push starts.
	pushTimeout time.Duration // Deadline for a single push, zero for none.
}

// Creates a publisher for the given registry and publish settings.
func NewPublisher(reg Registry, cfg PublishConfig) *Publisher {
	p := &Publisher{
		registry:    reg,
		policy:      cfg.Policy,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		pushTimeout: cfg.PushTimeout.Std(),
	}
	if p.policy == "" {
		p.policy = PolicyFailFast
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return p
}

// Authenticates once and pushes img under each tag.
//
// Pushes are launched in tag order and the returned slice keeps that order.
// Under [PolicyFailFast] the first failure cancels pushes still in flight,
// marks the remaining tags as skipped, and is returned as a [*PublishError].
// Under [PolicyBestEffort] every tag is attempted and all failures are
// joined. A successful tag is never rolled back.
func (p *Publisher) Publish(ctx context.Context, img *Image, name ImageName, tags []string, creds Credentials) ([]Published, error) {
	slog.Info("authenticating", "registry", creds.Registry, "username", creds.Username)

	session, err := p.registry.Authenticate(ctx, creds)
	if err != nil {
		if !errors.Is(err, ErrAuthenticationFailed) {
			err = wrap(ErrAuthenticationFailed, err)
		}
		return nil, err
	}

	results := make([]Published, len(tags))
	for i, tag := range tags {
		results[i] = Published{Tag: tag, Skipped: true}
	}

	gctx := ctx
	var g *errgroup.Group
	if p.policy == PolicyFailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(p.concurrency)

	for i, tag := range tags {
		if p.policy == PolicyFailFast && gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if p.policy == PolicyFailFast && gctx.Err() != nil {
				return nil
			}

			results[i].Skipped = false
			ref, err := p.push(gctx, session, img, name.Reference(tag))
			if err != nil {
				results[i].Err = &PublishError{Tag: tag, Err: err}
				slog.Error("push failed", "tag", tag, "error", err)
				if p.policy == PolicyFailFast {
					return results[i].Err
				}
				return nil
			}

			results[i].Reference = ref
			slog.Info("pushed", "tag", tag, "reference", ref)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// Pushes a single reference with the configured throttle and deadline.
func (p *Publisher) push(ctx context.Context, session Session, img *Image, ref string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if p.pushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.pushTimeout)
		defer cancel()
	}

	slog.Debug("pushing", "reference", ref)
	return session.Push(ctx, img, ref)
}
