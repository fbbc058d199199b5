// Package notify decides, from a run's terminal status and the descriptor's
// notification policy, whether an alert goes out, and delivers it to the
// configured channels. Delivery is best-effort: a failed delivery never
// alters the already-determined run result.
package notify

import (
	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
)

// ShouldNotify evaluates a trigger for a terminal status against the
// previous status the policy compares to. Skipped runs are not reportable
// events. An empty previous status means no history, which counts as a
// change: the first run of a pipeline announces itself.
func ShouldNotify(
	policy descriptor.Notifications,
	status store.RunStatus,
	previous store.RunStatus,
) bool {
	var trigger descriptor.Trigger
	switch status {
	case store.StatusPassed:
		trigger = policy.OnSuccess
	case store.StatusFailed:
		trigger = policy.OnFailure
	default:
		return false
	}

	switch trigger {
	case descriptor.TriggerAlways:
		return true
	case descriptor.TriggerNever:
		return false
	case descriptor.TriggerChange:
		return previous != status
	default:
		return false
	}
}
