package gate

import (
	"context"
	"net/http"
	"sync/atomic"
)

// State is the request's phase as seen by the gate.
type State int32

const (
	StateUndefined State = iota
	StateRedirectingToLogon
	StateNoSessionNotAuthenticated
	StateSessionInProgress
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateRedirectingToLogon:
		return "REDIRECTING_TO_LOGON"
	case StateNoSessionNotAuthenticated:
		return "NO_SESSION_NOT_AUTHENTICATED"
	case StateSessionInProgress:
		return "SESSION_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

type stateKey struct{}

// stateHolder is the request-scoped slot the gate writes its state into.
// Every context derived from the request shares it.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State   { return State(h.v.Load()) }
func (h *stateHolder) store(s State) { h.v.Store(int32(s)) }

// attachState returns r with a state holder in its context, reusing one
// already attached by an outer gate.
func attachState(r *http.Request) (*http.Request, *stateHolder) {
	if h, ok := r.Context().Value(stateKey{}).(*stateHolder); ok {
		return r, h
	}
	h := &stateHolder{}
	return r.WithContext(context.WithValue(r.Context(), stateKey{}, h)), h
}

// StateFrom returns the gate state of the request owning ctx.
// A context the gate has not seen reads StateUndefined.
func StateFrom(ctx context.Context) State {
	if h, ok := ctx.Value(stateKey{}).(*stateHolder); ok {
		return h.load()
	}
	return StateUndefined
}
