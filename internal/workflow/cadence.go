package workflow

import "time"

// StandupCadence computes a standup wall-clock window: a pure time
// calculation of the "last_standup_at / 24h" kind in TriggerEngine's
// scale-4 rule. internal/trigger applies that rule with its own
// standupMaxStaleness constant and does not call this type. It introduces
// no scheduler daemon of its own — whatever drives the tick loop is the CLI/ops layer, outside the
// core.
type StandupCadence struct {
	Interval time.Duration
}

// NextDue returns the next time a standup is due given the last one was
// held at lastHeldAt. A zero lastHeldAt means none has ever been held, so
// a standup is immediately due.
func (c StandupCadence) NextDue(lastHeldAt time.Time) time.Time {
	if lastHeldAt.IsZero() {
		return time.Time{}
	}
	return lastHeldAt.Add(c.Interval)
}

// IsDue reports whether a standup is due at now, given the last one was
// held at lastHeldAt (zero meaning never).
func (c StandupCadence) IsDue(lastHeldAt, now time.Time) bool {
	if lastHeldAt.IsZero() {
		return true
	}
	return !now.Before(c.NextDue(lastHeldAt))
}

// Halved returns the cadence with its interval cut in half. WorkflowSelector's
// "process" learning adjustment does not call it; that adjustment only marks
// standup steps with standup_interval_halved metadata.
func (c StandupCadence) Halved() StandupCadence {
	return StandupCadence{Interval: c.Interval / 2}
}
