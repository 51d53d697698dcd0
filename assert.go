package behave

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-behave/infrastructure/llm"
	"github.com/ahrav/go-behave/internal/application"
	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// Outcome labels recorded on the assertion metrics and spans, in addition to
// the verdict outcomes pass, fail and format_error.
const (
	outcomeInvalidInput    = "invalid_input"
	outcomeConnectionError = "connection_error"
)

// AssertBehavioralMatch asks the model whether actual behaves as
// expectedBehavior describes. It returns nil on PASS and otherwise one of:
//
//   - *InvalidPromptError when either input is nil or not a string. No
//     request is made.
//   - *ConnectionError when the provider could not be reached or refused the
//     request.
//   - *BehavioralAssertionError when the model answered FAIL. Reason holds
//     the model's explanation.
//   - *FormatError when the reply began with neither PASS nor FAIL.
func (a *Asserter) AssertBehavioralMatch(ctx context.Context, actual, expectedBehavior any) error {
	callID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "behave.assert",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("behave.call_id", callID),
			attribute.String("llm.provider", a.provider),
			attribute.String("llm.model", a.client.GetModel()),
		),
	)
	defer span.End()

	start := time.Now()
	outcome, err := a.assert(ctx, actual, expectedBehavior)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("behave.outcome", outcome))
	if err != nil && outcome != domain.OutcomeFail.String() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	a.record(outcome, elapsed)

	a.logger.DebugContext(ctx, "assertion finished",
		"call_id", callID,
		"outcome", outcome,
		"duration", elapsed,
	)
	return err
}

func (a *Asserter) assert(ctx context.Context, actual, expectedBehavior any) (string, error) {
	act, exp, err := application.ValidateAssertionInputs(actual, expectedBehavior)
	if err != nil {
		return outcomeInvalidInput, err
	}

	reply, err := a.client.Invoke(ctx, a.prompts.Messages(act, exp))
	if err != nil {
		return outcomeConnectionError, connectionError(err)
	}

	verdict := domain.ParseVerdict(reply)
	return verdict.Outcome.String(), verdict.Err()
}

// connectionError wraps err, attaching the provider's status details when
// the failure was classified.
func connectionError(err error) *ConnectionError {
	var details map[string]string
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		details = perr.Details()
	}
	return domain.NewConnectionError("Failed to get a response from the LLM", err, details)
}

func (a *Asserter) record(outcome string, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	labels := map[string]string{
		"provider": a.provider,
		"model":    a.client.GetModel(),
		"outcome":  outcome,
	}
	a.metrics.RecordLatency(ports.MetricAssertionLatency, elapsed, labels)
	a.metrics.RecordCounter(ports.MetricAssertionsTotal, 1, labels)
}

// Case is one assertion in a batch.
type Case struct {
	Name             string
	Actual           any
	ExpectedBehavior any
}

// Result pairs a Case with the error AssertBehavioralMatch returned for it.
type Result struct {
	Case Case
	Err  error
}

// Passed reports whether the case passed.
func (r Result) Passed() bool { return r.Err == nil }

// AssertAll runs every case through AssertBehavioralMatch, at most
// Options.MaxConcurrency at a time. Results are returned in the order of
// cases. Cases not yet started when ctx is canceled report ctx.Err().
func (a *Asserter) AssertAll(ctx context.Context, cases []Case) []Result {
	results := make([]Result, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, c := range cases {
		results[i].Case = c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Err = a.AssertBehavioralMatch(gctx, c.Actual, c.ExpectedBehavior)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
