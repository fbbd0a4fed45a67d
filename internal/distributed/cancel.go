// Package distributed provides an optional cross-instance stop relay for the
// Conversation Registry (C4) so a /stop request landing on an instance that
// doesn't own the thread can still reach the one that does. Grounded on the
// teacher's internal/streaming/distributed.go (DistributedCancelService: NATS
// request-reply, "only the owning instance replies" pattern), renamed to the
// registry's RequestStop/GetState semantics. Additive: spec.md's registry is
// single-process, so this is only active when FREVAGPT_NATS_URL is set.
package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/registry"
	"github.com/nats-io/nats.go"
)

const (
	stopSubject    = "frevagpt.stream.stop"
	requestTimeout = 5 * time.Second
)

// StopRequest is broadcast to every instance; only the one whose registry
// holds the thread replies.
type StopRequest struct {
	ThreadID string `json:"thread_id"`
}

// StopResponse reports whether the replying instance owned the thread.
type StopResponse struct {
	Found      bool   `json:"found"`
	InstanceID string `json:"instance_id"`
}

// CancelRelay handles distributed stop requests over NATS.
type CancelRelay struct {
	nc           *nats.Conn
	registry     *registry.Registry
	log          *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// New returns nil when nc is nil, so callers can wire it unconditionally
// behind an "is NATS configured" check without a separate nil guard.
func New(nc *nats.Conn, reg *registry.Registry, log *logger.Logger, instanceID string) *CancelRelay {
	if nc == nil {
		return nil
	}
	return &CancelRelay{nc: nc, registry: reg, log: log.WithComponent("distributed-cancel"), instanceID: instanceID}
}

// Start begins listening for stop requests from other instances.
func (r *CancelRelay) Start() error {
	sub, err := r.nc.Subscribe(stopSubject, r.handleStopRequest)
	if err != nil {
		return fmt.Errorf("distributed: failed to subscribe to %s: %w", stopSubject, err)
	}
	r.subscription = sub
	r.log.Info("distributed cancel relay started", "subject", stopSubject, "instance_id", r.instanceID)
	return nil
}

// Stop drains the subscription.
func (r *CancelRelay) Stop() error {
	if r.subscription == nil {
		return nil
	}
	if err := r.subscription.Drain(); err != nil {
		return fmt.Errorf("distributed: failed to drain subscription: %w", err)
	}
	return nil
}

// RequestStop asks every instance to stop threadID and returns true if any
// instance reports owning it. Callers should fall back to their own local
// registry.RequestStop first; this is only for the not-found-locally case.
func (r *CancelRelay) RequestStop(ctx context.Context, threadID string) (bool, error) {
	data, err := json.Marshal(StopRequest{ThreadID: threadID})
	if err != nil {
		return false, fmt.Errorf("distributed: failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(reqCtx, stopSubject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return false, nil
		}
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("distributed: stop request failed: %w", err)
	}

	var resp StopResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return false, fmt.Errorf("distributed: failed to unmarshal response: %w", err)
	}
	return resp.Found, nil
}

// handleStopRequest replies only when this instance's registry owns the
// thread, leaving the request unanswered otherwise so the owning instance
// (if any) can reply instead.
func (r *CancelRelay) handleStopRequest(msg *nats.Msg) {
	var req StopRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.log.Warn("distributed: received invalid stop request", "error", err.Error())
		return
	}

	if !r.registry.RequestStop(req.ThreadID) {
		return
	}

	resp := StopResponse{Found: true, InstanceID: r.instanceID}
	data, err := json.Marshal(resp)
	if err != nil {
		r.log.Error("distributed: failed to marshal response", "error", err.Error())
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Error("distributed: failed to send response", "error", err.Error())
	}
}
