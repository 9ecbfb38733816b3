package reconcile

import (
	"cashclose/internal/domain"
	"cashclose/internal/store"
)

type WriteAction int

const (
	WriteInsert WriteAction = iota + 1
	WriteUpdate
	WriteRepair
)

func (a WriteAction) String() string {
	switch a {
	case WriteInsert:
		return "insert"
	case WriteUpdate:
		return "update"
	case WriteRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// DecideWrite applies the closure state machine: absent records are
// inserted, drafts are always updated, and a closed record is only
// rewritten as closed again, while a session is open for the branch and the
// record either has no session or points at that same session.
func DecideWrite(existing *domain.ClosureRecord, open *domain.OperatingSession, requestedStatus string) (WriteAction, error) {
	if existing == nil {
		return WriteInsert, nil
	}
	if existing.Status != domain.ClosureStatusClosed {
		return WriteUpdate, nil
	}
	if requestedStatus == domain.ClosureStatusClosed && Repairable(existing, open) {
		return WriteRepair, nil
	}
	return 0, store.ErrClosureExists
}

func Repairable(existing *domain.ClosureRecord, open *domain.OperatingSession) bool {
	if existing == nil || open == nil || open.Status != domain.SessionStatusOpen {
		return false
	}
	return existing.PosSessionID == "" || existing.PosSessionID == open.ID
}
