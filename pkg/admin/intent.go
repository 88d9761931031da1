// Package admin dispatches administrative commands against the
// cluster: fire-and-track with correlation ids, per-intent timeouts
// and synthesized Timeout results so the operator is never left with
// a command in limbo. Commands are never retried automatically;
// administrative actions are not safely idempotent in general.
package admin

import (
	"errors"
	"strconv"

	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Validation errors.
var (
	ErrMissingName   = errors.New("projection name required")
	ErrMissingQuery  = errors.New("projection query required")
	ErrMissingStream = errors.New("stream name required")
	ErrMissingGroup  = errors.New("group name required")
)

// Intent is one administrative command. The set of implementations is
// closed so every variant validates its own parameter schema before
// anything reaches the wire.
type Intent interface {
	Op() wire.AdminOp
	Validate() error
	request(correlationID string) *wire.AdminRequest
}

// CreateProjection creates a continuous or transient projection.
type CreateProjection struct {
	Name       string
	Query      string
	Continuous bool
}

func (i CreateProjection) Op() wire.AdminOp { return wire.OpCreateProjection }

func (i CreateProjection) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	if i.Query == "" {
		return ErrMissingQuery
	}
	return nil
}

func (i CreateProjection) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{
		CorrelationID: id,
		Op:            i.Op(),
		Target:        i.Name,
		Query:         i.Query,
		Params:        map[string]string{"continuous": strconv.FormatBool(i.Continuous)},
	}
}

// EnableProjection starts a stopped projection.
type EnableProjection struct {
	Name string
}

func (i EnableProjection) Op() wire.AdminOp { return wire.OpEnableProjection }

func (i EnableProjection) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	return nil
}

func (i EnableProjection) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Name}
}

// DisableProjection stops a running projection.
type DisableProjection struct {
	Name string
}

func (i DisableProjection) Op() wire.AdminOp { return wire.OpDisableProjection }

func (i DisableProjection) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	return nil
}

func (i DisableProjection) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Name}
}

// ResetProjection rewinds a projection to the beginning of its
// source streams.
type ResetProjection struct {
	Name string
}

func (i ResetProjection) Op() wire.AdminOp { return wire.OpResetProjection }

func (i ResetProjection) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	return nil
}

func (i ResetProjection) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Name}
}

// CreatePersistentSubscription creates a persistent subscription
// group on a stream.
type CreatePersistentSubscription struct {
	Stream       string
	Group        string
	FromRevision uint64
}

func (i CreatePersistentSubscription) Op() wire.AdminOp { return wire.OpCreatePersistentSubscription }

func (i CreatePersistentSubscription) Validate() error {
	if i.Stream == "" {
		return ErrMissingStream
	}
	if i.Group == "" {
		return ErrMissingGroup
	}
	return nil
}

func (i CreatePersistentSubscription) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{
		CorrelationID: id,
		Op:            i.Op(),
		Target:        i.Stream,
		Group:         i.Group,
		Params:        map[string]string{"from": strconv.FormatUint(i.FromRevision, 10)},
	}
}

// UpdatePersistentSubscription tunes an existing group.
type UpdatePersistentSubscription struct {
	Stream            string
	Group             string
	MaxRetryCount     int
	MessageTimeoutMs  int
	MaxSubscriberCount int
}

func (i UpdatePersistentSubscription) Op() wire.AdminOp { return wire.OpUpdatePersistentSubscription }

func (i UpdatePersistentSubscription) Validate() error {
	if i.Stream == "" {
		return ErrMissingStream
	}
	if i.Group == "" {
		return ErrMissingGroup
	}
	return nil
}

func (i UpdatePersistentSubscription) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{
		CorrelationID: id,
		Op:            i.Op(),
		Target:        i.Stream,
		Group:         i.Group,
		Params: map[string]string{
			"maxRetryCount":      strconv.Itoa(i.MaxRetryCount),
			"messageTimeoutMs":   strconv.Itoa(i.MessageTimeoutMs),
			"maxSubscriberCount": strconv.Itoa(i.MaxSubscriberCount),
		},
	}
}

// DeletePersistentSubscription removes a group.
type DeletePersistentSubscription struct {
	Stream string
	Group  string
}

func (i DeletePersistentSubscription) Op() wire.AdminOp { return wire.OpDeletePersistentSubscription }

func (i DeletePersistentSubscription) Validate() error {
	if i.Stream == "" {
		return ErrMissingStream
	}
	if i.Group == "" {
		return ErrMissingGroup
	}
	return nil
}

func (i DeletePersistentSubscription) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Stream, Group: i.Group}
}

// ReplayParkedMessages re-delivers a group's parked messages.
type ReplayParkedMessages struct {
	Stream string
	Group  string
}

func (i ReplayParkedMessages) Op() wire.AdminOp { return wire.OpReplayParkedMessages }

func (i ReplayParkedMessages) Validate() error {
	if i.Stream == "" {
		return ErrMissingStream
	}
	if i.Group == "" {
		return ErrMissingGroup
	}
	return nil
}

func (i ReplayParkedMessages) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Stream, Group: i.Group}
}

// RestartSubsystem restarts a named node subsystem, e.g.
// "projections".
type RestartSubsystem struct {
	Name string
}

func (i RestartSubsystem) Op() wire.AdminOp { return wire.OpRestartSubsystem }

func (i RestartSubsystem) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	return nil
}

func (i RestartSubsystem) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: i.Op(), Target: i.Name}
}

// ResignNode asks the connected node to resign leadership.
type ResignNode struct{}

func (ResignNode) Op() wire.AdminOp { return wire.OpResignNode }

func (ResignNode) Validate() error { return nil }

func (ResignNode) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: wire.OpResignNode}
}

// ShutdownNode asks the connected node to shut down.
type ShutdownNode struct{}

func (ShutdownNode) Op() wire.AdminOp { return wire.OpShutdownNode }

func (ShutdownNode) Validate() error { return nil }

func (ShutdownNode) request(id string) *wire.AdminRequest {
	return &wire.AdminRequest{CorrelationID: id, Op: wire.OpShutdownNode}
}
