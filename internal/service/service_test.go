package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cashclose/internal/cache"
	"cashclose/internal/domain"
	"cashclose/internal/store"
	"cashclose/internal/store/memory"
)

const testBranch = "branch-b"

var testBranchCtx = domain.BranchContext{BranchID: testBranch, OrganizationID: "org-1"}

func newTestService(repo store.Repository) *Service {
	return New(repo, cache.NoopSummaryCache{}, time.Minute, zerolog.Nop())
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     domain.RoleAdmin,
		BranchID: testBranch,
	})
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// seedScenario opens a session on 2024-01-15 with 10000 in the drawer and
// records one sale paid 5000 cash and 3000 debit.
func seedScenario(t *testing.T, repo *memory.Store) *domain.OperatingSession {
	t.Helper()
	session, err := repo.CreateSession(context.Background(), domain.OperatingSession{
		BranchID:          testBranch,
		OpenedAt:          time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		OpeningCashAmount: amount(10000),
	})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	order := repo.AddOrder(domain.Order{
		BranchID:      testBranch,
		CreatedAt:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		TotalAmount:   amount(8000),
		Subtotal:      amount(6723),
		TaxAmount:     amount(1277),
		PaymentMethod: "credit_card",
		IsPOSSale:     true,
	})
	repo.AddPayment(domain.Payment{OrderID: order.ID, SessionID: session.ID, Amount: amount(5000), PaymentMethod: domain.PaymentMethodCash})
	repo.AddPayment(domain.Payment{OrderID: order.ID, SessionID: session.ID, Amount: amount(3000), PaymentMethod: domain.PaymentMethodDebit})
	return session
}

func closeRequest(actualCash *decimal.Decimal) domain.ClosureRequest {
	return domain.ClosureRequest{
		ClosureDate:       "2024-01-15",
		OpeningCashAmount: amountPtr(10000),
		ActualCash:        actualCash,
	}
}

func TestClosureSummaryScenario(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)

	summary, err := svc.ClosureSummary(adminCtx(), testBranchCtx, "", "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.CashSales.Equal(amount(5000)) {
		t.Fatalf("expected cash_sales 5000, got %s", summary.CashSales)
	}
	if !summary.DebitCardSales.Equal(amount(3000)) {
		t.Fatalf("expected debit_card_sales 3000, got %s", summary.DebitCardSales)
	}
	if !summary.ExpectedCash.Equal(amount(15000)) {
		t.Fatalf("expected expected_cash 15000, got %s", summary.ExpectedCash)
	}
	if !summary.CreditCardSales.IsZero() {
		t.Fatalf("expected legacy credit tag to be ignored, got %s", summary.CreditCardSales)
	}
	if summary.TotalTransactions != 2 || summary.SessionPaymentsCount != 2 {
		t.Fatalf("expected 2 transactions from session payments, got %d/%d", summary.TotalTransactions, summary.SessionPaymentsCount)
	}
	if summary.PaymentSource != "session_payments" {
		t.Fatalf("expected session_payments source, got %s", summary.PaymentSource)
	}
	if len(summary.Orders) != 1 || !summary.TotalSales.Equal(amount(8000)) {
		t.Fatalf("expected one order totalling 8000, got %d / %s", len(summary.Orders), summary.TotalSales)
	}
	if summary.PreviousClosure != nil {
		t.Fatalf("expected no previous closure")
	}
}

func TestCloseDayRecordsCashDifferenceAndClosesSession(t *testing.T) {
	repo := memory.New()
	session := seedScenario(t, repo)
	svc := newTestService(repo)

	result, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(amountPtr(14500)))
	if err != nil {
		t.Fatalf("close day failed: %v", err)
	}
	closure := result.Closure
	if !result.Success || closure.Status != domain.ClosureStatusClosed {
		t.Fatalf("expected closed closure, got %+v", result)
	}
	if !closure.CashDifference.Equal(amount(-500)) {
		t.Fatalf("expected cash_difference -500, got %s", closure.CashDifference)
	}
	if closure.PosSessionID != session.ID || closure.ClosedBy != "admin" {
		t.Fatalf("expected session and closing user stamped, got %s / %s", closure.PosSessionID, closure.ClosedBy)
	}
	if !closure.OpenedAt.Equal(session.OpenedAt) {
		t.Fatalf("expected opened_at from session, got %s", closure.OpenedAt)
	}

	after, err := repo.GetSessionByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if after.Status != domain.SessionStatusClosed || after.ClosedAt == nil {
		t.Fatalf("expected session closed, got %+v", after)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), testBranchCtx, "", "", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) < 2 {
		t.Fatalf("expected closure and session audit entries, got %d", len(logs))
	}
}

func TestCloseDayWithoutCountedCashHasZeroDifference(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)

	result, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(nil))
	if err != nil {
		t.Fatalf("close day failed: %v", err)
	}
	if !result.Closure.CashDifference.IsZero() || result.Closure.ActualCash != nil {
		t.Fatalf("expected zero difference and nil actual cash, got %s / %v", result.Closure.CashDifference, result.Closure.ActualCash)
	}
	if !result.Closure.CardMachineDifference.IsZero() {
		t.Fatalf("expected zero card difference, got %s", result.Closure.CardMachineDifference)
	}
}

func TestCloseDayTwiceWithoutOpenSessionConflicts(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(14500)))
	if err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	_, err = svc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(20000)))
	if !errors.Is(err, store.ErrClosureExists) {
		t.Fatalf("expected ErrClosureExists, got %v", err)
	}

	stored, err := repo.GetClosure(ctx, testBranch, "2024-01-15")
	if err != nil {
		t.Fatalf("get closure failed: %v", err)
	}
	if stored.ID != first.Closure.ID || !stored.ActualCash.Equal(amount(14500)) || !stored.UpdatedAt.Equal(first.Closure.UpdatedAt) {
		t.Fatalf("expected first closure unchanged, got %+v", stored)
	}
}

func TestCloseDayDraftOverClosedConflicts(t *testing.T) {
	repo := memory.New()
	session := seedScenario(t, repo)
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(14500)))
	if err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	draft := closeRequest(amountPtr(20000))
	draft.Status = domain.ClosureStatusDraft
	if _, err := svc.CloseDay(ctx, testBranchCtx, draft); !errors.Is(err, store.ErrClosureExists) {
		t.Fatalf("expected draft over closed closure to conflict, got %v", err)
	}

	if _, err := svc.ReopenSession(ctx, testBranchCtx, session.ID); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := svc.CloseDay(ctx, testBranchCtx, draft); !errors.Is(err, store.ErrClosureExists) {
		t.Fatalf("expected draft over repairable closure to conflict, got %v", err)
	}

	stored, err := repo.GetClosure(ctx, testBranch, "2024-01-15")
	if err != nil {
		t.Fatalf("get closure failed: %v", err)
	}
	if stored.Status != domain.ClosureStatusClosed || stored.ClosedAt == nil {
		t.Fatalf("expected closure to stay closed, got status %s closed_at %v", stored.Status, stored.ClosedAt)
	}
	if !stored.ActualCash.Equal(amount(14500)) || !stored.UpdatedAt.Equal(first.Closure.UpdatedAt) {
		t.Fatalf("expected first closure unchanged, got %+v", stored)
	}
	open, err := repo.GetOpenSession(ctx, testBranch)
	if err != nil || open.ID != session.ID {
		t.Fatalf("expected reopened session to stay open, got %v", err)
	}
}

// racingRepo runs interleave once, right before the first closure update
// reaches the store.
type racingRepo struct {
	*memory.Store
	once       sync.Once
	interleave func()
}

func (r *racingRepo) UpdateClosure(ctx context.Context, closure domain.ClosureRecord, expected store.ClosureVersion) (*domain.ClosureRecord, error) {
	r.once.Do(r.interleave)
	return r.Store.UpdateClosure(ctx, closure, expected)
}

func TestCloseDayDoesNotOverwriteConcurrentClose(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	ctx := adminCtx()

	draft := closeRequest(amountPtr(15000))
	draft.Status = domain.ClosureStatusDraft
	if _, err := newTestService(repo).CloseDay(ctx, testBranchCtx, draft); err != nil {
		t.Fatalf("draft failed: %v", err)
	}

	var (
		winner    domain.ClosureResult
		winnerErr error
	)
	racing := &racingRepo{Store: repo}
	racing.interleave = func() {
		winner, winnerErr = newTestService(repo).CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(999)))
	}

	_, err := newTestService(racing).CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(123)))
	if winnerErr != nil {
		t.Fatalf("competing close failed: %v", winnerErr)
	}
	if !errors.Is(err, store.ErrClosureExists) {
		t.Fatalf("expected the slower close to conflict, got %v", err)
	}

	stored, err := repo.GetClosure(ctx, testBranch, "2024-01-15")
	if err != nil {
		t.Fatalf("get closure failed: %v", err)
	}
	if stored.Status != domain.ClosureStatusClosed || !stored.ActualCash.Equal(amount(999)) {
		t.Fatalf("expected competing close to survive, got status %s actual %s", stored.Status, stored.ActualCash)
	}
	if !stored.UpdatedAt.Equal(winner.Closure.UpdatedAt) {
		t.Fatalf("expected stored closure to be the competing write")
	}
}

func TestCloseDayRepairsAfterSessionReopen(t *testing.T) {
	repo := memory.New()
	session := seedScenario(t, repo)
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(14500)))
	if err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	reopened, err := svc.ReopenSession(ctx, testBranchCtx, session.ID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Session.ReopenCount != 1 || reopened.Session.Status != domain.SessionStatusOpen {
		t.Fatalf("unexpected reopened session %+v", reopened.Session)
	}

	summary, err := svc.ClosureSummary(ctx, testBranchCtx, "", "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.PreviousClosure == nil || summary.PreviousClosure.ID != first.Closure.ID {
		t.Fatalf("expected repairable closure echoed in summary")
	}

	repo.AddPayment(domain.Payment{OrderID: "late-order", SessionID: session.ID, Amount: amount(1000), PaymentMethod: domain.PaymentMethodCash})

	repaired, err := svc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(16000)))
	if err != nil {
		t.Fatalf("repair close failed: %v", err)
	}
	if repaired.Closure.ID != first.Closure.ID {
		t.Fatalf("expected repair to overwrite the same record")
	}
	if !repaired.Closure.CashSales.Equal(amount(6000)) || !repaired.Closure.ExpectedCash.Equal(amount(16000)) {
		t.Fatalf("expected updated totals, got cash %s expected %s", repaired.Closure.CashSales, repaired.Closure.ExpectedCash)
	}
	if !repaired.Closure.CashDifference.IsZero() {
		t.Fatalf("expected zero difference after repair, got %s", repaired.Closure.CashDifference)
	}

	after, _ := repo.GetSessionByID(ctx, session.ID)
	if after.Status != domain.SessionStatusClosed {
		t.Fatalf("expected session closed again after repair")
	}
}

func TestCloseDayConcurrentWritesYieldOneClosure(t *testing.T) {
	repo := memory.New()
	repo.AddOrder(domain.Order{
		BranchID:      testBranch,
		CreatedAt:     time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		TotalAmount:   amount(700),
		PaymentMethod: "cash",
		IsPOSSale:     true,
	})
	svc := newTestService(repo)

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(nil))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if !errors.Is(err, store.ErrClosureExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful closure, got %d", successes)
	}
	closures, err := repo.ListClosures(context.Background(), testBranch, "", "", 0)
	if err != nil {
		t.Fatalf("list closures failed: %v", err)
	}
	if len(closures) != 1 {
		t.Fatalf("expected one stored closure, got %d", len(closures))
	}
}

func TestDraftThenCloseMatchesFreshClose(t *testing.T) {
	draftRepo := memory.New()
	draftSession := seedScenario(t, draftRepo)
	draftSvc := newTestService(draftRepo)
	ctx := adminCtx()

	req := closeRequest(amountPtr(15000))
	req.Status = domain.ClosureStatusDraft
	draft, err := draftSvc.CloseDay(ctx, testBranchCtx, req)
	if err != nil {
		t.Fatalf("draft failed: %v", err)
	}
	if draft.Closure.Status != domain.ClosureStatusDraft || draft.Closure.ClosedAt != nil {
		t.Fatalf("expected draft closure, got %+v", draft.Closure)
	}
	open, err := draftRepo.GetOpenSession(ctx, testBranch)
	if err != nil || open.ID != draftSession.ID {
		t.Fatalf("expected session to stay open after a draft, got %v", err)
	}

	summary, err := draftSvc.ClosureSummary(ctx, testBranchCtx, "", "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.PreviousClosure == nil || summary.PreviousClosure.Status != domain.ClosureStatusDraft {
		t.Fatalf("expected draft echoed as previous closure")
	}

	closed, err := draftSvc.CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(15000)))
	if err != nil {
		t.Fatalf("close after draft failed: %v", err)
	}
	if closed.Closure.ID != draft.Closure.ID || closed.Closure.Status != domain.ClosureStatusClosed {
		t.Fatalf("expected draft to be promoted in place")
	}

	freshRepo := memory.New()
	seedScenario(t, freshRepo)
	fresh, err := newTestService(freshRepo).CloseDay(ctx, testBranchCtx, closeRequest(amountPtr(15000)))
	if err != nil {
		t.Fatalf("fresh close failed: %v", err)
	}

	a, b := closed.Closure, fresh.Closure
	if !a.TotalSales.Equal(b.TotalSales) || !a.CashSales.Equal(b.CashSales) || !a.DebitCardSales.Equal(b.DebitCardSales) ||
		!a.ExpectedCash.Equal(b.ExpectedCash) || !a.CashDifference.Equal(b.CashDifference) || a.TotalTransactions != b.TotalTransactions {
		t.Fatalf("expected identical aggregates, got %+v vs %+v", a, b)
	}
}

func TestCloseDayRealignsToOpenSessionDate(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)

	req := closeRequest(nil)
	req.ClosureDate = "2024-01-16"
	result, err := svc.CloseDay(adminCtx(), testBranchCtx, req)
	if err != nil {
		t.Fatalf("close day failed: %v", err)
	}
	if result.Closure.ClosureDate != "2024-01-15" {
		t.Fatalf("expected closure dated 2024-01-15, got %s", result.Closure.ClosureDate)
	}
	if !result.Closure.TotalSales.Equal(amount(8000)) {
		t.Fatalf("expected sales from the session day, got %s", result.Closure.TotalSales)
	}
	if _, err := repo.GetClosure(context.Background(), testBranch, "2024-01-16"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected nothing stored for the requested date, got %v", err)
	}
}

func TestCloseDayFoldsTransfersIntoOther(t *testing.T) {
	repo := memory.New()
	session := seedScenario(t, repo)
	repo.AddPayment(domain.Payment{OrderID: "o-x", SessionID: session.ID, Amount: amount(2000), PaymentMethod: domain.PaymentMethodTransfer})
	repo.AddPayment(domain.Payment{OrderID: "o-x", SessionID: session.ID, Amount: amount(300), PaymentMethod: domain.PaymentMethodCheck})
	svc := newTestService(repo)

	summary, err := svc.ClosureSummary(adminCtx(), testBranchCtx, "", "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.TransferSales.Equal(amount(2000)) || !summary.OtherPaymentSales.Equal(amount(300)) {
		t.Fatalf("expected separate transfer bucket in summary, got %s / %s", summary.TransferSales, summary.OtherPaymentSales)
	}
	if !summary.ExpectedCash.Equal(amount(15000)) {
		t.Fatalf("expected transfers excluded from expected cash, got %s", summary.ExpectedCash)
	}

	result, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(nil))
	if err != nil {
		t.Fatalf("close day failed: %v", err)
	}
	if !result.Closure.OtherPaymentSales.Equal(amount(2300)) {
		t.Fatalf("expected transfer folded into other_payment_sales, got %s", result.Closure.OtherPaymentSales)
	}
}

type failingCloseRepo struct {
	*memory.Store
}

func (failingCloseRepo) CloseSession(context.Context, string, time.Time) (*domain.OperatingSession, error) {
	return nil, errors.New("connection reset by peer")
}

func TestCloseDayToleratesSessionCloseFailure(t *testing.T) {
	repo := memory.New()
	session := seedScenario(t, repo)
	svc := newTestService(failingCloseRepo{Store: repo})

	result, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(nil))
	if err != nil {
		t.Fatalf("expected closure to succeed, got %v", err)
	}
	if result.Closure.Status != domain.ClosureStatusClosed {
		t.Fatalf("expected closed closure")
	}
	open, err := repo.GetOpenSession(context.Background(), testBranch)
	if err != nil || open.ID != session.ID {
		t.Fatalf("expected session left open, got %v", err)
	}
}

type failingOrdersRepo struct {
	*memory.Store
}

func (failingOrdersRepo) ListPOSOrders(context.Context, string, store.DayWindow) ([]domain.Order, error) {
	return nil, &store.QueryError{Op: "list pos orders", Message: "permission denied for table orders", Code: "42501"}
}

func TestCloseDayStorageFailureIsFatal(t *testing.T) {
	repo := memory.New()
	svc := newTestService(failingOrdersRepo{Store: repo})

	_, err := svc.CloseDay(adminCtx(), testBranchCtx, closeRequest(nil))
	if err == nil {
		t.Fatalf("expected storage failure")
	}
	var qe *store.QueryError
	if !errors.As(err, &qe) || qe.Code != "42501" {
		t.Fatalf("expected query error to be preserved, got %v", err)
	}
	if _, err := repo.GetClosure(context.Background(), testBranch, "2024-01-15"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no closure written on failure")
	}
}

func TestCloseDayValidation(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := adminCtx()

	cases := []struct {
		name string
		bc   domain.BranchContext
		req  domain.ClosureRequest
		code string
	}{
		{name: "missing date", bc: testBranchCtx, req: domain.ClosureRequest{OpeningCashAmount: amountPtr(1)}, code: CodeDateRequired},
		{name: "bad date", bc: testBranchCtx, req: domain.ClosureRequest{ClosureDate: "15-01-2024", OpeningCashAmount: amountPtr(1)}, code: CodeDateInvalid},
		{name: "missing opening", bc: testBranchCtx, req: domain.ClosureRequest{ClosureDate: "2024-01-15"}, code: CodeOpeningAmountRequired},
		{name: "negative opening", bc: testBranchCtx, req: domain.ClosureRequest{ClosureDate: "2024-01-15", OpeningCashAmount: amountPtr(-1)}, code: CodeOpeningAmountInvalid},
		{name: "bad status", bc: testBranchCtx, req: domain.ClosureRequest{ClosureDate: "2024-01-15", OpeningCashAmount: amountPtr(1), Status: "final"}, code: CodeStatusInvalid},
		{name: "no branch", bc: domain.BranchContext{}, req: closeRequest(nil), code: CodeBranchRequired},
		{name: "super admin without branch", bc: domain.BranchContext{IsSuperAdmin: true}, req: closeRequest(nil), code: CodeBranchRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CloseDay(ctx, tc.bc, tc.req)
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, fe.Code)
			}
			if !errors.Is(err, store.ErrInvalidInput) {
				t.Fatalf("expected FieldError to unwrap to ErrInvalidInput")
			}
		})
	}
}

func TestSuperAdminTargetsRequestedBranch(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)

	summary, err := svc.ClosureSummary(context.Background(), domain.BranchContext{IsSuperAdmin: true}, testBranch, "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.BranchID != testBranch || !summary.CashSales.Equal(amount(5000)) {
		t.Fatalf("expected summary for requested branch, got %+v", summary)
	}

	other, err := svc.ClosureSummary(context.Background(), domain.BranchContext{BranchID: "branch-other"}, testBranch, "2024-01-15")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if other.BranchID != "branch-other" || !other.TotalSales.IsZero() {
		t.Fatalf("expected non-super-admin pinned to own branch, got %+v", other)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := adminCtx()

	opened, err := svc.OpenSession(ctx, testBranchCtx, domain.SessionOpenRequest{OpeningCashAmount: amount(2500)})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	if opened.Session.OpenedBy != "admin" || opened.Session.Status != domain.SessionStatusOpen {
		t.Fatalf("unexpected session %+v", opened.Session)
	}

	if _, err := svc.OpenSession(ctx, testBranchCtx, domain.SessionOpenRequest{}); !errors.Is(err, ErrSessionAlreadyOpen) {
		t.Fatalf("expected ErrSessionAlreadyOpen, got %v", err)
	}

	active, err := svc.GetActiveSession(ctx, testBranchCtx, "")
	if err != nil || active.Session.ID != opened.Session.ID {
		t.Fatalf("expected active session, got %v", err)
	}

	if _, err := svc.ReopenSession(ctx, testBranchCtx, opened.Session.ID); !errors.Is(err, ErrSessionAlreadyOpen) {
		t.Fatalf("expected reopen of an open session to fail, got %v", err)
	}
	if _, err := svc.ReopenSession(ctx, domain.BranchContext{BranchID: "branch-other"}, opened.Session.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other branch to be rejected, got %v", err)
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]domain.ClosureSummary
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.ClosureSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.ClosureSummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func TestClosureSummaryIsCachedAndInvalidatedOnWrite(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	summaries := &mapCache{entries: map[string]domain.ClosureSummary{}}
	svc := New(repo, summaries, time.Minute, zerolog.Nop())
	ctx := adminCtx()

	if _, err := svc.ClosureSummary(ctx, testBranchCtx, "", "2024-01-16"); err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	key := cache.SummaryKey(testBranch, "2024-01-16")
	if _, ok := summaries.entries[key]; !ok {
		t.Fatalf("expected summary cached under %s", key)
	}

	req := closeRequest(nil)
	req.ClosureDate = "2024-01-16"
	if _, err := svc.CloseDay(ctx, testBranchCtx, req); err != nil {
		t.Fatalf("close day failed: %v", err)
	}
	if _, ok := summaries.entries[key]; ok {
		t.Fatalf("expected cached summary invalidated after closure")
	}
}

func TestListClosures(t *testing.T) {
	repo := memory.New()
	seedScenario(t, repo)
	svc := newTestService(repo)
	ctx := adminCtx()

	if _, err := svc.CloseDay(ctx, testBranchCtx, closeRequest(nil)); err != nil {
		t.Fatalf("close day failed: %v", err)
	}

	resp, err := svc.ListClosures(ctx, testBranchCtx, "", "2024-01-01", "2024-01-31", 0)
	if err != nil {
		t.Fatalf("list closures failed: %v", err)
	}
	if len(resp.Closures) != 1 || resp.Closures[0].ClosureDate != "2024-01-15" {
		t.Fatalf("expected one closure for January, got %+v", resp.Closures)
	}

	if _, err := svc.ListClosures(ctx, testBranchCtx, "", "January", "", 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid from date, got %v", err)
	}
}
