// Package probe runs readiness checks on an interval and reports transitions
// between ready and unready once the configured thresholds are crossed.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status captures the readiness condition surfaced by a probe watcher.
type Status string

const (
	// StatusUnknown is used internally to track transitions and is not
	// emitted on the public channel.
	StatusUnknown Status = "unknown"
	// StatusReady indicates that the probe has satisfied the configured
	// success threshold.
	StatusReady Status = "ready"
	// StatusUnready indicates that the probe has exceeded the configured
	// failure threshold.
	StatusUnready Status = "unready"
)

// Event describes a readiness state transition emitted by Watch.
type Event struct {
	Status Status
	Reason string
	Err    error
	At     time.Time
}

// Prober defines the behaviour required by the Watch loop.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// Spec configures the checks and the cadence of a watcher.
type Spec struct {
	GracePeriod      time.Duration
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	HTTP             *HTTPSpec
	TCP              *TCPSpec
	Command          *CommandSpec
}

// HTTPSpec defines a status page check. When Contains is set the page body
// must include it.
type HTTPSpec struct {
	URL          string
	ExpectStatus []int
	Contains     string
}

// TCPSpec defines a TCP dial check.
type TCPSpec struct {
	Address string
}

// CommandSpec defines a command check.
type CommandSpec struct {
	Command []string
	Timeout time.Duration
}

// New constructs a Prober for the supplied specification. When several
// checks are configured the probe passes as soon as any one of them does.
func New(spec *Spec) (Prober, error) {
	if spec == nil {
		return nil, errors.New("probe: missing configuration")
	}
	var terms []probeTerm

	if spec.HTTP != nil {
		if spec.HTTP.URL == "" {
			return nil, errors.New("probe: http requires a url")
		}
		terms = append(terms, probeTerm{alias: "http", probe: newHTTPProber(spec.HTTP)})
	}
	if spec.TCP != nil {
		if spec.TCP.Address == "" {
			return nil, errors.New("probe: tcp requires an address")
		}
		terms = append(terms, probeTerm{alias: "tcp", probe: newTCPProber(spec.TCP)})
	}
	if spec.Command != nil {
		prober, err := newCommandProber(spec.Command)
		if err != nil {
			return nil, err
		}
		terms = append(terms, probeTerm{alias: "cmd", probe: prober})
	}

	switch len(terms) {
	case 0:
		return nil, errors.New("probe: missing configuration")
	case 1:
		return terms[0].probe, nil
	default:
		return &anyProber{terms: terms}, nil
	}
}

// Watch continuously executes the provided prober until the context is
// cancelled. Transitions between ready and unready states are emitted on the
// returned channel. The channel is closed once the context is cancelled.
func Watch(ctx context.Context, prober Prober, spec *Spec, nowFn func() time.Time) <-chan Event {
	events := make(chan Event, 1)
	if ctx == nil {
		close(events)
		return events
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	go func() {
		defer close(events)
		if prober == nil || spec == nil {
			return
		}

		successNeeded := spec.SuccessThreshold
		if successNeeded <= 0 {
			successNeeded = 1
		}
		failureAllowed := spec.FailureThreshold
		if failureAllowed <= 0 {
			failureAllowed = 1
		}

		interval := spec.Interval
		timeout := probeTimeout(spec)

		if gp := spec.GracePeriod; gp > 0 {
			timer := time.NewTimer(gp)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

		successes := 0
		failures := 0
		status := StatusUnknown

		for {
			attemptCtx := ctx
			cancel := func() {}
			if timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			}

			err := prober.Probe(attemptCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}

			if err == nil {
				successes++
				failures = 0
				if successes >= successNeeded && status != StatusReady {
					status = StatusReady
					if !sendEvent(ctx, events, Event{Status: StatusReady, At: nowFn()}) {
						return
					}
				}
			} else {
				if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("timeout after %s", timeout)
				}

				successes = 0
				failures++
				if failures >= failureAllowed && status != StatusUnready {
					status = StatusUnready
					event := Event{Status: StatusUnready, Reason: err.Error(), Err: err, At: nowFn()}
					if !sendEvent(ctx, events, event) {
						return
					}
				}
			}

			if interval <= 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
				continue
			}

			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return events
}

func sendEvent(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

func probeTimeout(spec *Spec) time.Duration {
	if spec.Command != nil && spec.Command.Timeout > 0 {
		return spec.Command.Timeout
	}
	return spec.Timeout
}

type probeTerm struct {
	alias string
	probe Prober
}

type anyProber struct {
	terms []probeTerm
}

func (m *anyProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		alias string
		err   error
	}

	results := make(chan result, len(m.terms))
	for _, term := range m.terms {
		go func() {
			results <- result{alias: term.alias, err: term.probe.Probe(ctx)}
		}()
	}

	var errs []error
	for range m.terms {
		res := <-results
		if res.err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.alias, res.err))
	}
	return errors.Join(errs...)
}
