package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"cashclose/internal/domain"
	"cashclose/internal/store"
	"cashclose/internal/xid"
)

type Store struct {
	db *sql.DB
}

// New pins the connection TimeZone to UTC so literal day windows and
// timestamptz columns agree with the UTC dates the service derives.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	db := stdlib.OpenDB(*cfg)

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Day windows are bound as literal timestamp strings, read in the UTC
// session TimeZone set by New.
func windowBounds(window store.DayWindow) (string, string) {
	return window.Date + "T00:00:00", window.Date + "T23:59:59"
}

func (s *Store) ListPOSOrders(ctx context.Context, branchID string, window store.DayWindow) ([]domain.Order, error) {
	from, to := windowBounds(window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, created_at, total_amount, subtotal, tax_amount, discount_amount, payment_method
		FROM orders
		WHERE branch_id = $1
			AND is_pos_sale = true
			AND created_at >= $2
			AND created_at <= $3
		ORDER BY created_at ASC
	`, branchID, from, to)
	if err != nil {
		return nil, wrapQueryError("list pos orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		var (
			o                              domain.Order
			total, subtotal, tax, discount sql.NullString
			method                         sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.BranchID, &o.CreatedAt, &total, &subtotal, &tax, &discount, &method); err != nil {
			return nil, wrapQueryError("list pos orders", err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.TotalAmount = domain.Amount(total)
		o.Subtotal = domain.Amount(subtotal)
		o.TaxAmount = domain.Amount(tax)
		o.DiscountAmount = domain.Amount(discount)
		o.PaymentMethod = method.String
		o.IsPOSSale = true
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError("list pos orders", err)
	}
	return orders, nil
}

func (s *Store) ListPaymentsBySession(ctx context.Context, sessionID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, pos_session_id, amount, payment_method, paid_at
		FROM order_payments
		WHERE pos_session_id = $1
		ORDER BY paid_at ASC
	`, sessionID)
	if err != nil {
		return nil, wrapQueryError("list session payments", err)
	}
	return scanPayments(rows, "list session payments")
}

func (s *Store) ListPaymentsByOrders(ctx context.Context, orderIDs []string) ([]domain.Payment, error) {
	if len(orderIDs) == 0 {
		return []domain.Payment{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, pos_session_id, amount, payment_method, paid_at
		FROM order_payments
		WHERE order_id = ANY($1)
		ORDER BY paid_at ASC
	`, orderIDs)
	if err != nil {
		return nil, wrapQueryError("list order payments", err)
	}
	return scanPayments(rows, "list order payments")
}

func scanPayments(rows *sql.Rows, op string) ([]domain.Payment, error) {
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		var (
			p         domain.Payment
			sessionID sql.NullString
			amount    sql.NullString
			method    sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &sessionID, &amount, &method, &p.PaidAt); err != nil {
			return nil, wrapQueryError(op, err)
		}
		p.SessionID = sessionID.String
		p.Amount = domain.Amount(amount)
		p.PaymentMethod = method.String
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(op, err)
	}
	return payments, nil
}

const sessionColumns = `id, branch_id, opened_by, opened_at, closed_at, opening_cash_amount, status, reopen_count, reopened_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.OperatingSession, error) {
	var (
		session    domain.OperatingSession
		openedBy   sql.NullString
		closedAt   sql.NullTime
		reopenedAt sql.NullTime
		opening    sql.NullString
	)
	if err := row.Scan(
		&session.ID,
		&session.BranchID,
		&openedBy,
		&session.OpenedAt,
		&closedAt,
		&opening,
		&session.Status,
		&session.ReopenCount,
		&reopenedAt,
	); err != nil {
		return nil, err
	}
	session.OpenedBy = openedBy.String
	session.OpenedAt = session.OpenedAt.UTC()
	session.OpeningCashAmount = domain.Amount(opening)
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	if reopenedAt.Valid {
		at := reopenedAt.Time.UTC()
		session.ReopenedAt = &at
	}
	return &session, nil
}

func (s *Store) querySession(ctx context.Context, op string, query string, args ...any) (*domain.OperatingSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapQueryError(op, err)
	}
	return session, nil
}

func (s *Store) GetOpenSession(ctx context.Context, branchID string) (*domain.OperatingSession, error) {
	return s.querySession(ctx, "get open session", `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE branch_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, branchID)
}

func (s *Store) GetLatestSessionOpenedBetween(ctx context.Context, branchID string, window store.DayWindow) (*domain.OperatingSession, error) {
	from, to := windowBounds(window)
	return s.querySession(ctx, "get session for date", `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE branch_id = $1
			AND opened_at >= $2
			AND opened_at <= $3
		ORDER BY opened_at DESC
		LIMIT 1
	`, branchID, from, to)
}

func (s *Store) GetSessionByID(ctx context.Context, sessionID string) (*domain.OperatingSession, error) {
	return s.querySession(ctx, "get session", `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE id = $1
	`, sessionID)
}

func (s *Store) CreateSession(ctx context.Context, session domain.OperatingSession) (*domain.OperatingSession, error) {
	if strings.TrimSpace(session.BranchID) == "" || session.OpeningCashAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if session.ID == "" {
		session.ID = xid.New("pos")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_sessions (id, branch_id, opened_by, opened_at, closed_at, opening_cash_amount, status, reopen_count)
		VALUES ($1,$2,$3,$4,NULL,$5,$6,$7)
	`, session.ID, session.BranchID, nullIfEmpty(session.OpenedBy), session.OpenedAt,
		session.OpeningCashAmount, session.Status, session.ReopenCount)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, wrapQueryError("create session", err)
	}
	saved := session
	return &saved, nil
}

// CloseSession is conditional on status = 'open' so a concurrent close of the
// same session is not clobbered; that case reports ErrNotFound.
func (s *Store) CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (*domain.OperatingSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return s.querySession(ctx, "close session", `
		UPDATE pos_sessions
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+sessionColumns, sessionID, closedAt)
}

func (s *Store) ReopenSession(ctx context.Context, sessionID string, reopenedAt time.Time) (*domain.OperatingSession, error) {
	session, err := s.querySession(ctx, "reopen session", `
		UPDATE pos_sessions
		SET status = 'open', closed_at = NULL, reopen_count = reopen_count + 1, reopened_at = $2
		WHERE id = $1 AND status = 'closed'
		RETURNING `+sessionColumns, sessionID, reopenedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return nil, store.ErrInvalidInput
	}
	return session, err
}

const closureColumns = `id, branch_id, closure_date::text, pos_session_id, opening_cash_amount,
	total_sales, total_transactions, cash_sales, debit_card_sales, credit_card_sales,
	installments_sales, other_payment_sales, total_subtotal, total_tax, total_discounts,
	expected_cash, actual_cash, cash_difference, card_machine_debit_total, card_machine_credit_total,
	card_machine_debit_difference, card_machine_credit_difference, card_machine_difference,
	notes, discrepancies, status, opened_at, closed_at, closed_by, created_at, updated_at`

func scanClosure(row rowScanner) (*domain.ClosureRecord, error) {
	var (
		c                                domain.ClosureRecord
		sessionID, notes, disc, closedBy sql.NullString
		actual, cardDebit, cardCredit    decimal.NullDecimal
		closedAt                         sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.BranchID, &c.ClosureDate, &sessionID, &c.OpeningCashAmount,
		&c.TotalSales, &c.TotalTransactions, &c.CashSales, &c.DebitCardSales, &c.CreditCardSales,
		&c.InstallmentsSales, &c.OtherPaymentSales, &c.TotalSubtotal, &c.TotalTax, &c.TotalDiscounts,
		&c.ExpectedCash, &actual, &c.CashDifference, &cardDebit, &cardCredit,
		&c.CardMachineDebitDifference, &c.CardMachineCreditDifference, &c.CardMachineDifference,
		&notes, &disc, &c.Status, &c.OpenedAt, &closedAt, &closedBy, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.PosSessionID = sessionID.String
	c.Notes = notes.String
	c.Discrepancies = disc.String
	c.ClosedBy = closedBy.String
	c.ActualCash = nullableAmount(actual)
	c.CardMachineDebitTotal = nullableAmount(cardDebit)
	c.CardMachineCreditTotal = nullableAmount(cardCredit)
	c.OpenedAt = c.OpenedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		c.ClosedAt = &at
	}
	return &c, nil
}

func (s *Store) GetClosure(ctx context.Context, branchID string, date string) (*domain.ClosureRecord, error) {
	closure, err := scanClosure(s.db.QueryRowContext(ctx, `
		SELECT `+closureColumns+`
		FROM cash_register_closures
		WHERE branch_id = $1 AND closure_date = $2
	`, branchID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapQueryError("get closure", err)
	}
	return closure, nil
}

// CreateClosure relies on the unique index over (branch_id, closure_date);
// losing a concurrent insert race surfaces as ErrClosureExists.
func (s *Store) CreateClosure(ctx context.Context, c domain.ClosureRecord) (*domain.ClosureRecord, error) {
	if strings.TrimSpace(c.BranchID) == "" || strings.TrimSpace(c.ClosureDate) == "" {
		return nil, store.ErrInvalidInput
	}
	if c.ID == "" {
		c.ID = xid.New("cls")
	}

	saved, err := scanClosure(s.db.QueryRowContext(ctx, `
		INSERT INTO cash_register_closures (
			id, branch_id, closure_date, pos_session_id, opening_cash_amount,
			total_sales, total_transactions, cash_sales, debit_card_sales, credit_card_sales,
			installments_sales, other_payment_sales, total_subtotal, total_tax, total_discounts,
			expected_cash, actual_cash, cash_difference, card_machine_debit_total, card_machine_credit_total,
			card_machine_debit_difference, card_machine_credit_difference, card_machine_difference,
			notes, discrepancies, status, opened_at, closed_at, closed_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,now(),now())
		RETURNING `+closureColumns,
		closureArgs(c)...,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrClosureExists
		}
		return nil, wrapQueryError("create closure", err)
	}
	return saved, nil
}

// UpdateClosure is a compare-and-set on the status and updated_at the caller
// read. A row changed in between surfaces as ErrClosureExists.
func (s *Store) UpdateClosure(ctx context.Context, c domain.ClosureRecord, expected store.ClosureVersion) (*domain.ClosureRecord, error) {
	args := append(closureArgs(c), expected.Status, expected.UpdatedAt)
	saved, err := scanClosure(s.db.QueryRowContext(ctx, `
		UPDATE cash_register_closures
		SET pos_session_id = $4, opening_cash_amount = $5,
			total_sales = $6, total_transactions = $7, cash_sales = $8, debit_card_sales = $9, credit_card_sales = $10,
			installments_sales = $11, other_payment_sales = $12, total_subtotal = $13, total_tax = $14, total_discounts = $15,
			expected_cash = $16, actual_cash = $17, cash_difference = $18, card_machine_debit_total = $19, card_machine_credit_total = $20,
			card_machine_debit_difference = $21, card_machine_credit_difference = $22, card_machine_difference = $23,
			notes = $24, discrepancies = $25, status = $26, opened_at = $27, closed_at = $28, closed_by = $29,
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE branch_id = $2 AND closure_date = $3 AND ($1 = '' OR id = $1)
			AND status = $30 AND updated_at = $31
		RETURNING `+closureColumns,
		args...,
	))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapQueryError("update closure", err)
	}
	if _, getErr := s.GetClosure(ctx, c.BranchID, c.ClosureDate); getErr != nil {
		return nil, getErr
	}
	return nil, store.ErrClosureExists
}

func closureArgs(c domain.ClosureRecord) []any {
	return []any{
		c.ID, c.BranchID, c.ClosureDate, nullIfEmpty(c.PosSessionID), c.OpeningCashAmount,
		c.TotalSales, c.TotalTransactions, c.CashSales, c.DebitCardSales, c.CreditCardSales,
		c.InstallmentsSales, c.OtherPaymentSales, c.TotalSubtotal, c.TotalTax, c.TotalDiscounts,
		c.ExpectedCash, nullAmount(c.ActualCash), c.CashDifference, nullAmount(c.CardMachineDebitTotal), nullAmount(c.CardMachineCreditTotal),
		c.CardMachineDebitDifference, c.CardMachineCreditDifference, c.CardMachineDifference,
		nullIfEmpty(c.Notes), nullIfEmpty(c.Discrepancies), c.Status, c.OpenedAt, nullTime(c.ClosedAt), nullIfEmpty(c.ClosedBy),
	}
}

func (s *Store) ListClosures(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.ClosureRecord, error) {
	if limit < 1 {
		limit = 31
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+closureColumns+`
		FROM cash_register_closures
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR closure_date >= $2::date)
			AND ($3 = '' OR closure_date <= $3::date)
		ORDER BY closure_date DESC, branch_id ASC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, wrapQueryError("list closures", err)
	}
	defer rows.Close()

	closures := make([]domain.ClosureRecord, 0, limit)
	for rows.Next() {
		c, err := scanClosure(rows)
		if err != nil {
			return nil, wrapQueryError("list closures", err)
		}
		closures = append(closures, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError("list closures", err)
	}
	return closures, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, organization_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.BranchID), nullIfEmpty(user.OrganizationID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, organization_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var (
			user            domain.UserAccount
			branchID, orgID sql.NullString
		)
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &branchID, &orgID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.BranchID = branchID.String
		user.OrganizationID = orgID.String
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapQueryError keeps the driver's message, code and hint for operators.
func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	qe := &store.QueryError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.Message = pgErr.Message
		qe.Code = pgErr.Code
		qe.Hint = pgErr.Hint
	}
	return qe
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullAmount(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullableAmount(val decimal.NullDecimal) *decimal.Decimal {
	if !val.Valid {
		return nil
	}
	d := val.Decimal
	return &d
}
