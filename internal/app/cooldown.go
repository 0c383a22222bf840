package app

import (
	"time"

	"github.com/pscheid92/livealert/internal/domain"
)

// ActionKind is the branch the dispatcher takes for one destination.
type ActionKind int

const (
	ActionSendNew ActionKind = iota
	ActionSuppress
	// ActionInspect means a live message exists inside the window and must be
	// fetched before choosing between edit and suppress.
	ActionInspect
	ActionEditInPlace
	ActionReapThenSend
)

func (k ActionKind) String() string {
	switch k {
	case ActionSendNew:
		return "send_new"
	case ActionSuppress:
		return "suppress"
	case ActionInspect:
		return "inspect"
	case ActionEditInPlace:
		return "edit_in_place"
	case ActionReapThenSend:
		return "reap_then_send"
	default:
		return "unknown"
	}
}

// Action is a cooldown decision. Recent is set for suppress, inspect and edit;
// Stale for reap-then-send.
type Action struct {
	Kind           ActionKind
	Recent         *domain.NotificationRecord
	Stale          []domain.NotificationRecord
	ClearMessageID bool
	Changes        []string
	Reason         string
}

// CooldownResolver decides per destination what to do with an incoming session.
// It has no side effects.
type CooldownResolver struct {
	Window time.Duration
}

func NewCooldownResolver(window time.Duration) CooldownResolver {
	return CooldownResolver{Window: window}
}

// Resolve picks the action for incoming given the destination's successful history,
// newest stream start first.
func (r CooldownResolver) Resolve(history []domain.NotificationRecord, incoming domain.StreamSession, editInPlace bool) Action {
	recent := r.findRecent(history, incoming)

	if !editInPlace {
		if recent != nil {
			return Action{Kind: ActionSuppress, Recent: recent, Reason: "duplicate within cooldown window"}
		}
		return Action{Kind: ActionSendNew}
	}

	if recent != nil {
		if !recent.HasMessage() {
			return Action{Kind: ActionSuppress, Recent: recent, Reason: "active alert has no message"}
		}
		return Action{Kind: ActionInspect, Recent: recent}
	}

	stale := r.findStale(history, incoming)
	if len(stale) == 0 {
		return Action{Kind: ActionSendNew}
	}
	return Action{Kind: ActionReapThenSend, Stale: stale}
}

// ResolveInspected completes an ActionInspect decision once the live message has been
// read back. msg is nil when the message no longer exists.
func (r CooldownResolver) ResolveInspected(a Action, msg *domain.ChatMessage, botUserID string, next domain.RenderedMessage, nextRoles []string) Action {
	if msg == nil {
		return Action{Kind: ActionSuppress, Recent: a.Recent, ClearMessageID: true, Reason: "alert message no longer exists"}
	}
	if msg.AuthorID != botUserID {
		return Action{Kind: ActionSuppress, Recent: a.Recent, ClearMessageID: true, Reason: "alert message not authored by bot"}
	}

	changes := Diff(msg, a.Recent.RoleNames, next, nextRoles)
	if len(changes) > 0 {
		return Action{Kind: ActionEditInPlace, Recent: a.Recent, Changes: changes}
	}
	return Action{Kind: ActionSuppress, Recent: a.Recent, Reason: "alert unchanged"}
}

func (r CooldownResolver) findRecent(history []domain.NotificationRecord, incoming domain.StreamSession) *domain.NotificationRecord {
	for i := range history {
		if domain.SameOutage(incoming.StartTime, history[i].StreamStartTime, r.Window) {
			rec := history[i]
			return &rec
		}
	}
	return nil
}

func (r CooldownResolver) findStale(history []domain.NotificationRecord, incoming domain.StreamSession) []domain.NotificationRecord {
	var stale []domain.NotificationRecord
	for _, rec := range history {
		if incoming.StartTime.Sub(rec.StreamStartTime) >= r.Window {
			stale = append(stale, rec)
		}
	}
	return stale
}
