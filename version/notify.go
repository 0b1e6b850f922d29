package version

import "context"

// Event names emitted after a successful commit.
const (
	EventWritten        = "entity.written"
	EventVersionCreated = "version.created"
	EventVersionMerged  = "version.merged"
)

// Event is handed to every Notifier once the write has committed.
type Event struct {
	Name      string
	VersionID ID
	ChangeSet ChangeSet
}

// Notifier observes committed changes. A failing notifier never undoes the
// write it was told about.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, ev)
}
