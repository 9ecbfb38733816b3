package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashclose/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrClosureExists = errors.New("closure already exists for this date/branch")
)

// DayWindow is the inclusive [From, To] range for one calendar date.
type DayWindow struct {
	Date string
	From time.Time
	To   time.Time
}

const DateLayout = "2006-01-02"

// NewDayWindow returns the window from 00:00:00 to 23:59:59 of date, with no
// timezone conversion applied.
func NewDayWindow(date string) (DayWindow, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return DayWindow{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return DayWindow{
		Date: date,
		From: day,
		To:   day.Add(24*time.Hour - time.Second),
	}, nil
}

// Contains reports whether t falls inside the window, both bounds inclusive.
func (w DayWindow) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.From) && !t.After(w.To)
}

// QueryError carries the storage layer's diagnostic fields so the HTTP layer
// can surface them.
type QueryError struct {
	Op      string
	Message string
	Code    string
	Hint    string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ClosureVersion is the stored state a closure update was decided on.
// UpdateClosure only applies while the row still carries this status and
// updated_at, and returns ErrClosureExists otherwise.
type ClosureVersion struct {
	Status    string
	UpdatedAt time.Time
}

func VersionOf(c domain.ClosureRecord) ClosureVersion {
	return ClosureVersion{Status: c.Status, UpdatedAt: c.UpdatedAt}
}

type Repository interface {
	ListPOSOrders(ctx context.Context, branchID string, window DayWindow) ([]domain.Order, error)
	ListPaymentsBySession(ctx context.Context, sessionID string) ([]domain.Payment, error)
	ListPaymentsByOrders(ctx context.Context, orderIDs []string) ([]domain.Payment, error)
	GetOpenSession(ctx context.Context, branchID string) (*domain.OperatingSession, error)
	GetLatestSessionOpenedBetween(ctx context.Context, branchID string, window DayWindow) (*domain.OperatingSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (*domain.OperatingSession, error)
	CreateSession(ctx context.Context, session domain.OperatingSession) (*domain.OperatingSession, error)
	CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (*domain.OperatingSession, error)
	ReopenSession(ctx context.Context, sessionID string, reopenedAt time.Time) (*domain.OperatingSession, error)
	GetClosure(ctx context.Context, branchID string, date string) (*domain.ClosureRecord, error)
	CreateClosure(ctx context.Context, closure domain.ClosureRecord) (*domain.ClosureRecord, error)
	UpdateClosure(ctx context.Context, closure domain.ClosureRecord, expected ClosureVersion) (*domain.ClosureRecord, error)
	ListClosures(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.ClosureRecord, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
