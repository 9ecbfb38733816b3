package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashclose/internal/domain"
	"cashclose/internal/store"
	"cashclose/internal/xid"
)

func (s *Service) OpenSession(ctx context.Context, bc domain.BranchContext, req domain.SessionOpenRequest) (domain.SessionResponse, error) {
	branchID, err := ResolveBranch(bc, req.BranchID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if req.OpeningCashAmount.IsNegative() {
		return domain.SessionResponse{}, &FieldError{Field: "opening_cash_amount", Code: CodeOpeningAmountInvalid}
	}

	session := domain.OperatingSession{
		ID:                xid.New("pos"),
		BranchID:          branchID,
		OpenedBy:          actorUsername(ctx),
		OpenedAt:          time.Now().UTC(),
		OpeningCashAmount: req.OpeningCashAmount,
		Status:            domain.SessionStatusOpen,
	}
	saved, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return domain.SessionResponse{}, ErrSessionAlreadyOpen
		}
		return domain.SessionResponse{}, err
	}

	s.invalidateSummaries(ctx, branchID, saved.OpenedAt.Format(store.DateLayout))
	s.logAudit(ctx, branchID, "session_open", "pos_session", saved.ID, fmt.Sprintf("opening_cash=%s", saved.OpeningCashAmount))

	return domain.SessionResponse{Session: *saved}, nil
}

// ReopenSession flips a closed session back to open. A closure already
// written for its day becomes repairable while the session stays open.
func (s *Service) ReopenSession(ctx context.Context, bc domain.BranchContext, sessionID string) (domain.SessionResponse, error) {
	existing, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if !bc.IsSuperAdmin && existing.BranchID != bc.BranchID {
		return domain.SessionResponse{}, store.ErrNotFound
	}
	if existing.Status == domain.SessionStatusOpen {
		return domain.SessionResponse{}, ErrSessionAlreadyOpen
	}

	now := time.Now().UTC()
	reopened, err := s.repo.ReopenSession(ctx, sessionID, now)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return domain.SessionResponse{}, ErrSessionAlreadyOpen
		}
		return domain.SessionResponse{}, err
	}

	s.invalidateSummaries(ctx, reopened.BranchID,
		reopened.OpenedAt.Format(store.DateLayout),
		now.Format(store.DateLayout))
	s.logAudit(ctx, reopened.BranchID, "session_reopen", "pos_session", reopened.ID,
		fmt.Sprintf("reopen_count=%d,reopened_at=%s", reopened.ReopenCount, now.Format(time.RFC3339)))

	return domain.SessionResponse{Session: *reopened}, nil
}

func (s *Service) GetActiveSession(ctx context.Context, bc domain.BranchContext, requestedBranch string) (domain.SessionResponse, error) {
	branchID, err := ResolveBranch(bc, requestedBranch)
	if err != nil {
		return domain.SessionResponse{}, err
	}

	session, err := s.repo.GetOpenSession(ctx, branchID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *session}, nil
}
