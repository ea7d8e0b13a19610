// Package status probes the bot's external collaborators.
package status

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// NotConfigured is the Detail of a report for a collaborator without a Pinger.
const NotConfigured = "not configured"

const defaultTimeout = 5 * time.Second

// Pinger is anything that can check its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Probe names one collaborator. A nil Pinger marks it as not configured.
type Probe struct {
	Name   string
	Pinger Pinger
}

// Report is the outcome of one probe.
type Report struct {
	ServiceName string
	Reachable   bool
	Detail      string
}

// Configured reports whether the collaborator was probed at all.
func (r Report) Configured() bool { return r.Detail != NotConfigured }

// Checker runs all probes concurrently, each under its own timeout.
type Checker struct {
	probes  []Probe
	timeout time.Duration
}

// NewChecker creates a checker. A non-positive timeout selects 5s.
func NewChecker(timeout time.Duration, probes ...Probe) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{probes: probes, timeout: timeout}
}

// Check returns one report per probe, in registration order. A failing or
// slow probe never affects the others.
func (c *Checker) Check(ctx context.Context) []Report {
	reports := make([]Report, len(c.probes))
	var g errgroup.Group
	for i, p := range c.probes {
		reports[i].ServiceName = p.Name
		if p.Pinger == nil {
			reports[i].Detail = NotConfigured
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			if err := ping(pctx, p.Pinger); err != nil {
				reports[i].Detail = err.Error()
				return nil
			}
			reports[i].Reachable = true
			return nil
		})
	}
	g.Wait()
	return reports
}

// ping returns when the pinger does or when ctx expires, whichever is first,
// so a pinger that ignores its context cannot stall the report.
func ping(ctx context.Context, p Pinger) error {
	done := make(chan error, 1)
	go func() { done <- p.Ping(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether every configured collaborator is reachable.
func Healthy(reports []Report) bool {
	for _, r := range reports {
		if r.Configured() && !r.Reachable {
			return false
		}
	}
	return true
}
