package vstore

import "context"

// Startable components are started by Micro before its runners.
type Startable interface {
	Start(context.Context) error
}

// Stoppable components are stopped by Micro in reverse start order.
type Stoppable interface {
	Stop(context.Context) error
}

// LifecycleHooks adapts plain functions to Startable and Stoppable, e.g. to
// close a database pool or flush a Kafka writer on shutdown.
type LifecycleHooks struct {
	OnStart func(context.Context) error
	OnStop  func(context.Context) error
}

func (h LifecycleHooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h LifecycleHooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}
