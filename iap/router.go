package iap

import (
	"context"

	"github.com/pkg/errors"
)

// Attempt records one submission made by the Router.
type Attempt struct {
	Environment Environment
	Status      int
}

// Router submits a request to the verification service, starting with its
// initial environment and falling back to the other one at most once when the
// service reports that the receipt belongs there.
type Router struct {
	transport Transport
	initial   Environment
}

func NewRouter(transport Transport, initial Environment) *Router {
	return &Router{
		transport: transport,
		initial:   initial,
	}
}

type routeState uint8

const (
	stateAttempting routeState = iota
	stateDone
)

// route is the state of a single Send. It moves from stateAttempting to
// stateDone; the only transition back into stateAttempting is the fallback,
// which is guarded by fellBack.
type route struct {
	state    routeState
	env      Environment
	fellBack bool
	attempts []Attempt

	resp *Response
	err  error
}

// Send posts req, following the environment fallback, and returns the final
// response together with every attempt made.
func (r *Router) Send(ctx context.Context, req *Request) (*Response, []Attempt, error) {
	rt := &route{
		state: stateAttempting,
		env:   r.initial,
	}

	for rt.state == stateAttempting {
		resp, err := r.transport.Post(ctx, rt.env, req)
		rt.next(resp, err)
	}

	return rt.resp, rt.attempts, rt.err
}

func (rt *route) next(resp *Response, err error) {
	if err != nil {
		rt.attempts = append(rt.attempts, Attempt{Environment: rt.env, Status: -1})
		rt.done(nil, transportError(err))
		return
	}
	if resp == nil {
		rt.attempts = append(rt.attempts, Attempt{Environment: rt.env, Status: -1})
		rt.done(nil, NewError(KindMalformedResponse, errors.New("transport returned no response")))
		return
	}

	rt.attempts = append(rt.attempts, Attempt{Environment: rt.env, Status: resp.Status})

	switch {
	case resp.Status == mismatchStatus(rt.env) && !rt.fellBack:
		rt.env = rt.env.Other()
		rt.fellBack = true
	case isMismatchStatus(resp.Status) && rt.fellBack:
		rt.done(nil, NewError(
			KindEnvironmentMismatch,
			errors.Wrapf(statusError(resp.Status), "receipt rejected by %s", rt.env),
		))
	default:
		rt.done(resp, nil)
	}
}

func (rt *route) done(resp *Response, err error) {
	rt.state = stateDone
	rt.resp = resp
	rt.err = err
}

// mismatchStatus is the status with which env's endpoint reports a receipt
// that belongs to the other environment.
func mismatchStatus(env Environment) int {
	if env == EnvironmentSandbox {
		return StatusProductionReceiptOnSandbox
	}
	return StatusSandboxReceiptOnProduction
}

func isMismatchStatus(status int) bool {
	return status == StatusSandboxReceiptOnProduction || status == StatusProductionReceiptOnSandbox
}

// transportError keeps errors the transport already classified and treats
// everything else as a network failure.
func transportError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(KindTransportError, err)
}
