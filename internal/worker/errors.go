package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rezkam/jobqueue/internal/domain"
)

// Processor is the unit of user code a Worker invokes for a leased job. ctx
// is the attempt's cancellation handle: it is cancelled when the
// per-attempt timeout elapses or the ctx passed to Worker.Run is cancelled
// (the pool does so once its drain deadline elapses); Worker.Stop alone
// does not cancel it.
type Processor func(ctx context.Context, payload any) (result any, err error)

// ErrorHandler observes job errors and panics for telemetry, mirroring the
// retry-policy-agnostic hook the coordinator package exposes; it cannot
// change retry behavior, only observe it.
type ErrorHandler interface {
	HandleError(ctx context.Context, job *domain.Job, err error)
	HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string)
}

// NoopErrorHandler discards every callback.
type NoopErrorHandler struct{}

func (NoopErrorHandler) HandleError(context.Context, *domain.Job, error)       {}
func (NoopErrorHandler) HandlePanic(context.Context, *domain.Job, any, string) {}

// classify turns a processor's returned error into the structured record
// the store keeps. A plain (non-ProcessorError) error defaults to a
// permanent, non-retriable failure; only errors explicitly built with
// domain.NewProcessorError carry a different category.
func classify(err error, timedOut bool) *domain.ProcessorError {
	if timedOut {
		return domain.NewProcessorError(domain.CategoryTimeout, "attempt exceeded its per-attempt timeout")
	}
	var pe *domain.ProcessorError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProcessorError{
		Category:  domain.CategoryPermanent,
		Message:   err.Error(),
		Retriable: false,
	}
}

// panicError converts a recovered panic value into a non-retriable
// processor error; panics indicate programming errors, not transient
// conditions, so they never retry.
func panicError(r any) *domain.ProcessorError {
	return &domain.ProcessorError{
		Category:  domain.CategoryPermanent,
		Message:   fmt.Sprintf("panic: %v", r),
		Retriable: false,
	}
}
