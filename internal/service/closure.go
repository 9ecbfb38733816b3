package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cashclose/internal/cache"
	"cashclose/internal/domain"
	"cashclose/internal/reconcile"
	"cashclose/internal/store"
)

// computation is everything derived from stored rows for one branch and
// authoritative date, before any user input is applied.
type computation struct {
	branchID  string
	location  reconcile.Location
	orders    []domain.Order
	totals    reconcile.SalesTotals
	breakdown reconcile.Breakdown
}

func (c computation) transactionCount() int {
	if c.breakdown.Source == reconcile.SourceNone {
		return c.totals.OrderCount
	}
	return c.breakdown.Count
}

func (c computation) sessionPaymentsCount() int {
	if c.breakdown.Source != reconcile.SourceSessionPayments {
		return 0
	}
	return c.breakdown.Count
}

func (s *Service) compute(ctx context.Context, branchID string, requestedDate string) (computation, error) {
	loc, err := reconcile.LocateSession(ctx, s.repo, branchID, requestedDate, s.logger)
	if err != nil {
		return computation{}, err
	}
	window, err := loc.Window()
	if err != nil {
		return computation{}, err
	}

	orders, err := s.repo.ListPOSOrders(ctx, branchID, window)
	if err != nil {
		return computation{}, fmt.Errorf("error fetching sales for closure: %w", err)
	}

	breakdown, err := reconcile.Classify(ctx, s.repo, loc.SessionID, orders)
	if err != nil {
		return computation{}, fmt.Errorf("error fetching payments for closure: %w", err)
	}

	return computation{
		branchID:  branchID,
		location:  loc,
		orders:    orders,
		totals:    reconcile.SumSales(orders),
		breakdown: breakdown,
	}, nil
}

// ClosureSummary returns what the till should hold for a branch and date.
// It has no side effects beyond the read-through cache.
func (s *Service) ClosureSummary(ctx context.Context, bc domain.BranchContext, requestedBranch string, date string) (domain.ClosureSummary, error) {
	branchID, err := ResolveBranch(bc, requestedBranch)
	if err != nil {
		return domain.ClosureSummary{}, err
	}
	if strings.TrimSpace(date) == "" {
		date = time.Now().UTC().Format(store.DateLayout)
	}
	date, err = parseDate("date", date)
	if err != nil {
		return domain.ClosureSummary{}, err
	}

	key := cache.SummaryKey(branchID, date)
	cached, ok, err := s.summaries.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("closure summary cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	comp, err := s.compute(ctx, branchID, date)
	if err != nil {
		return domain.ClosureSummary{}, err
	}

	b := comp.breakdown
	opening := comp.location.OpeningCash()
	summary := domain.ClosureSummary{
		Date:                 comp.location.Date,
		RequestedDate:        comp.location.RequestedDate,
		BranchID:             branchID,
		PosSessionID:         comp.location.SessionID,
		PaymentSource:        b.Source,
		TotalSales:           comp.totals.TotalSales,
		TotalTransactions:    comp.transactionCount(),
		CashSales:            b.Cash,
		DebitCardSales:       b.Debit,
		CreditCardSales:      b.Credit,
		TransferSales:        b.Transfer,
		InstallmentsSales:    b.Installments,
		OtherPaymentSales:    b.Other,
		TotalSubtotal:        comp.totals.TotalSubtotal,
		TotalTax:             comp.totals.TotalTax,
		TotalDiscounts:       comp.totals.TotalDiscounts,
		Orders:               comp.orders,
		OpeningCashAmount:    opening,
		ExpectedCash:         reconcile.ExpectedCash(opening, b.Buckets),
		SessionPaymentsCount: comp.sessionPaymentsCount(),
	}

	existing, err := s.repo.GetClosure(ctx, branchID, comp.location.Date)
	if err != nil && !isNotFound(err) {
		return domain.ClosureSummary{}, fmt.Errorf("error fetching existing closure: %w", err)
	}
	if existing != nil && (existing.Status == domain.ClosureStatusDraft || reconcile.Repairable(existing, comp.location.OpenSession())) {
		summary.PreviousClosure = existing
	}

	if err := s.summaries.Set(ctx, key, &summary, s.summaryTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("closure summary cache write failed")
	}
	return summary, nil
}

func validateClosureRequest(req domain.ClosureRequest) (domain.ClosureRequest, error) {
	date, err := parseDate("closure_date", req.ClosureDate)
	if err != nil {
		return req, err
	}
	req.ClosureDate = date

	if req.OpeningCashAmount == nil {
		return req, &FieldError{Field: "opening_cash_amount", Code: CodeOpeningAmountRequired}
	}
	if req.OpeningCashAmount.IsNegative() {
		return req, &FieldError{Field: "opening_cash_amount", Code: CodeOpeningAmountInvalid}
	}

	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	switch req.Status {
	case "":
		req.Status = domain.ClosureStatusClosed
	case domain.ClosureStatusDraft, domain.ClosureStatusClosed:
	default:
		return req, &FieldError{Field: "status", Code: CodeStatusInvalid}
	}

	req.Notes = strings.TrimSpace(req.Notes)
	req.Discrepancies = strings.TrimSpace(req.Discrepancies)
	return req, nil
}

// CloseDay computes and persists the closure for a branch and date. A
// closed record is only rewritten through the session repair path; any
// other attempt returns store.ErrClosureExists.
func (s *Service) CloseDay(ctx context.Context, bc domain.BranchContext, req domain.ClosureRequest) (domain.ClosureResult, error) {
	branchID, err := ResolveBranch(bc, req.BranchID)
	if err != nil {
		return domain.ClosureResult{}, err
	}
	req, err = validateClosureRequest(req)
	if err != nil {
		return domain.ClosureResult{}, err
	}

	comp, err := s.compute(ctx, branchID, req.ClosureDate)
	if err != nil {
		return domain.ClosureResult{}, err
	}
	loc := comp.location

	existing, err := s.repo.GetClosure(ctx, branchID, loc.Date)
	if err != nil && !isNotFound(err) {
		return domain.ClosureResult{}, fmt.Errorf("error fetching existing closure: %w", err)
	}
	open := loc.OpenSession()
	action, err := reconcile.DecideWrite(existing, open, req.Status)
	if err != nil {
		return domain.ClosureResult{}, err
	}

	opening := *req.OpeningCashAmount
	if loc.Session != nil && !loc.Session.OpeningCashAmount.Equal(opening) {
		s.logger.Warn().
			Str("branch_id", branchID).
			Str("session_id", loc.SessionID).
			Str("session_opening", loc.Session.OpeningCashAmount.String()).
			Str("request_opening", opening.String()).
			Msg("closure opening cash differs from session opening cash")
	}

	b := comp.breakdown
	disc := reconcile.ComputeDiscrepancy(opening, b.Buckets, reconcile.Counts{
		Cash:       req.ActualCash,
		CardDebit:  req.CardMachineDebitTotal,
		CardCredit: req.CardMachineCreditTotal,
	})

	now := time.Now().UTC()
	record := domain.ClosureRecord{
		BranchID:                    branchID,
		ClosureDate:                 loc.Date,
		PosSessionID:                loc.SessionID,
		OpeningCashAmount:           opening,
		TotalSales:                  comp.totals.TotalSales,
		TotalTransactions:           comp.transactionCount(),
		CashSales:                   b.Cash,
		DebitCardSales:              b.Debit,
		CreditCardSales:             b.Credit,
		InstallmentsSales:           b.Installments,
		OtherPaymentSales:           b.OtherWithTransfer(),
		TotalSubtotal:               comp.totals.TotalSubtotal,
		TotalTax:                    comp.totals.TotalTax,
		TotalDiscounts:              comp.totals.TotalDiscounts,
		ExpectedCash:                disc.ExpectedCash,
		ActualCash:                  req.ActualCash,
		CashDifference:              disc.CashDifference,
		CardMachineDebitTotal:       req.CardMachineDebitTotal,
		CardMachineCreditTotal:      req.CardMachineCreditTotal,
		CardMachineDebitDifference:  disc.DebitDifference,
		CardMachineCreditDifference: disc.CreditDifference,
		CardMachineDifference:       disc.CardDifference,
		Notes:                       req.Notes,
		Discrepancies:               req.Discrepancies,
		Status:                      req.Status,
		OpenedAt:                    loc.OpenedAt(),
		ClosedBy:                    actorUsername(ctx),
	}
	if req.Status == domain.ClosureStatusClosed {
		record.ClosedAt = &now
	}

	var saved *domain.ClosureRecord
	switch action {
	case reconcile.WriteInsert:
		saved, err = s.repo.CreateClosure(ctx, record)
	default:
		record.ID = existing.ID
		saved, err = s.repo.UpdateClosure(ctx, record, store.VersionOf(*existing))
	}
	if err != nil {
		return domain.ClosureResult{}, err
	}

	if req.Status == domain.ClosureStatusClosed && open != nil {
		s.closeSession(ctx, branchID, open.ID, now)
	}

	s.invalidateSummaries(ctx, branchID, req.ClosureDate, loc.Date)
	s.logAudit(ctx, branchID, "closure_"+action.String(), "cash_register_closure", saved.ID,
		fmt.Sprintf("date=%s,status=%s,expected_cash=%s,cash_difference=%s", saved.ClosureDate, saved.Status, saved.ExpectedCash, saved.CashDifference))

	return domain.ClosureResult{Success: true, Closure: *saved}, nil
}

// closeSession never fails the closure. A session left open makes the
// closure repairable on the next write.
func (s *Service) closeSession(ctx context.Context, branchID string, sessionID string, at time.Time) {
	closed, err := s.repo.CloseSession(ctx, sessionID, at)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("branch_id", branchID).
			Str("session_id", sessionID).
			Msg("closure saved but operating session could not be closed")
		return
	}
	s.logAudit(ctx, branchID, "session_close", "pos_session", closed.ID, "closed by cash register closure")
}

func (s *Service) ListClosures(ctx context.Context, bc domain.BranchContext, requestedBranch string, from string, to string, limit int) (domain.ClosureListResponse, error) {
	branchID := ""
	if !bc.IsSuperAdmin || strings.TrimSpace(requestedBranch) != "" {
		resolved, err := ResolveBranch(bc, requestedBranch)
		if err != nil {
			return domain.ClosureListResponse{}, err
		}
		branchID = resolved
	}

	var err error
	if strings.TrimSpace(from) != "" {
		if from, err = parseDate("from", from); err != nil {
			return domain.ClosureListResponse{}, err
		}
	}
	if strings.TrimSpace(to) != "" {
		if to, err = parseDate("to", to); err != nil {
			return domain.ClosureListResponse{}, err
		}
	}
	if limit < 0 || limit > 366 {
		return domain.ClosureListResponse{}, &FieldError{Field: "limit", Code: CodeLimitInvalid}
	}
	if limit == 0 {
		limit = 31
	}

	closures, err := s.repo.ListClosures(ctx, branchID, strings.TrimSpace(from), strings.TrimSpace(to), limit)
	if err != nil {
		return domain.ClosureListResponse{}, err
	}
	return domain.ClosureListResponse{Closures: closures}, nil
}
