package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cashclose/internal/domain"
	"cashclose/internal/store"
)

// SessionSource is the subset of the repository the locator reads from.
type SessionSource interface {
	GetOpenSession(ctx context.Context, branchID string) (*domain.OperatingSession, error)
	GetLatestSessionOpenedBetween(ctx context.Context, branchID string, window store.DayWindow) (*domain.OperatingSession, error)
	GetClosure(ctx context.Context, branchID string, date string) (*domain.ClosureRecord, error)
	GetSessionByID(ctx context.Context, sessionID string) (*domain.OperatingSession, error)
}

const (
	SessionFromOpen    = "open"
	SessionFromDate    = "date"
	SessionFromClosure = "closure"
	SessionFromNone    = "none"
)

// Location is the outcome of session discovery. Date is the authoritative
// date every downstream query must use; it differs from RequestedDate only
// when an open session was opened on another day.
type Location struct {
	Session       *domain.OperatingSession
	SessionID     string
	Source        string
	RequestedDate string
	Date          string
	Realigned     bool
}

// OpenSession returns the located session only when it is still open.
func (l Location) OpenSession() *domain.OperatingSession {
	if l.Session == nil || l.Session.Status != domain.SessionStatusOpen {
		return nil
	}
	return l.Session
}

func (l Location) OpeningCash() decimal.Decimal {
	if l.Session == nil {
		return decimal.Zero
	}
	return l.Session.OpeningCashAmount
}

// OpenedAt is the session's opening time, or midnight of the authoritative
// date when no session row is known.
func (l Location) OpenedAt() time.Time {
	if l.Session != nil && !l.Session.OpenedAt.IsZero() {
		return l.Session.OpenedAt
	}
	day, err := time.Parse(store.DateLayout, l.Date)
	if err != nil {
		return time.Time{}
	}
	return day
}

func (l Location) Window() (store.DayWindow, error) {
	return store.NewDayWindow(l.Date)
}

// LocateSession resolves the operating session for a branch and requested
// date. Not finding a session is not an error.
func LocateSession(ctx context.Context, src SessionSource, branchID string, requestedDate string, logger zerolog.Logger) (Location, error) {
	window, err := store.NewDayWindow(requestedDate)
	if err != nil {
		return Location{}, err
	}
	loc := Location{
		Source:        SessionFromNone,
		RequestedDate: requestedDate,
		Date:          requestedDate,
	}

	open, err := src.GetOpenSession(ctx, branchID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Location{}, fmt.Errorf("error fetching open session: %w", err)
	}
	if open != nil {
		loc.Session = open
		loc.SessionID = open.ID
		loc.Source = SessionFromOpen
		openedDate := open.OpenedAt.UTC().Format(store.DateLayout)
		if openedDate != requestedDate {
			logger.Warn().
				Str("branch_id", branchID).
				Str("session_id", open.ID).
				Str("requested_date", requestedDate).
				Str("session_date", openedDate).
				Msg("closure date realigned to open session opening date")
			loc.Date = openedDate
			loc.Realigned = true
		}
		return loc, nil
	}

	latest, err := src.GetLatestSessionOpenedBetween(ctx, branchID, window)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Location{}, fmt.Errorf("error fetching session for date: %w", err)
	}
	if latest != nil {
		loc.Session = latest
		loc.SessionID = latest.ID
		loc.Source = SessionFromDate
		return loc, nil
	}

	existing, err := src.GetClosure(ctx, branchID, requestedDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Location{}, fmt.Errorf("error fetching existing closure: %w", err)
	}
	if existing == nil || existing.PosSessionID == "" {
		return loc, nil
	}

	loc.SessionID = existing.PosSessionID
	loc.Source = SessionFromClosure
	session, err := src.GetSessionByID(ctx, existing.PosSessionID)
	switch {
	case err == nil:
		loc.Session = session
	case errors.Is(err, store.ErrNotFound):
		logger.Warn().
			Str("branch_id", branchID).
			Str("session_id", existing.PosSessionID).
			Msg("closure references a session that no longer exists")
	default:
		return Location{}, fmt.Errorf("error fetching closure session: %w", err)
	}
	return loc, nil
}
