package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
)

// Message is the payload handed to every channel.
type Message struct {
	Pipeline        string
	Branch          string
	Status          store.RunStatus
	FailedStep      string
	FailedStepIndex int
	ExitCode        int
}

func (m Message) Subject() string {
	switch m.Status {
	case store.StatusPassed:
		return fmt.Sprintf("[%s] build passed on %s", m.Pipeline, m.Branch)
	default:
		return fmt.Sprintf("[%s] build failed on %s", m.Pipeline, m.Branch)
	}
}

func (m Message) Body() string {
	if m.Status == store.StatusFailed {
		return fmt.Sprintf(
			"Pipeline %s failed on branch %s: step %d (%s) exited with code %d.",
			m.Pipeline, m.Branch, m.FailedStepIndex, m.FailedStep, m.ExitCode,
		)
	}
	return fmt.Sprintf("Pipeline %s passed on branch %s.", m.Pipeline, m.Branch)
}

// Channel delivers one message over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// StatusStore persists the per-pipeline, per-branch terminal history that
// the change trigger compares against.
type StatusStore interface {
	ReadPipelineStatus(ctx context.Context, pipelineID int64, branch string) (*store.PipelineStatus, error)
	UpsertPipelineStatus(ctx context.Context, pipelineID int64, branch string, last store.RunStatus, notified bool) error
}

type Notifier struct {
	statusStore StatusStore
}

func NewNotifier(statusStore StatusStore) *Notifier {
	return &Notifier{statusStore: statusStore}
}

// Notify is called exactly once per run, with the terminal result. It reads
// the persisted previous status, evaluates the policy, fans the message out
// to the channels and records the new status. Skipped runs neither notify
// nor overwrite the recorded history, since no build outcome was produced.
func (n *Notifier) Notify(
	ctx context.Context,
	pipelineID int64,
	msg Message,
	policy descriptor.Notifications,
	channels []Channel,
) error {
	if !msg.Status.Terminal() || msg.Status == store.StatusSkipped {
		return nil
	}

	var previous store.RunStatus
	ps, err := n.statusStore.ReadPipelineStatus(ctx, pipelineID, msg.Branch)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if ps != nil {
		switch policy.CompareTo {
		case descriptor.CompareLastNotified:
			if ps.LastNotifiedStatus != nil {
				previous = *ps.LastNotifiedStatus
			}
		default:
			previous = ps.LastStatus
		}
	}

	notified := false
	if ShouldNotify(policy, msg.Status, previous) {
		for _, ch := range channels {
			if err := ch.Send(ctx, msg); err != nil {
				log.Printf("err delivering %s notification: %+v\n", ch.Name(), err)
				continue
			}
			notified = true
		}
	}

	return n.statusStore.UpsertPipelineStatus(ctx, pipelineID, msg.Branch, msg.Status, notified)
}
