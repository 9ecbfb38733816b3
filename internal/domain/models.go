package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients read amounts as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type Order struct {
	ID             string          `json:"id"`
	BranchID       string          `json:"branch_id"`
	CreatedAt      time.Time       `json:"created_at"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaymentMethod  string          `json:"payment_method"`
	IsPOSSale      bool            `json:"is_pos_sale"`
}

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	SessionID     string          `json:"pos_session_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	PaidAt        time.Time       `json:"paid_at"`
}

type OperatingSession struct {
	ID                string          `json:"id"`
	BranchID          string          `json:"branch_id"`
	OpenedBy          string          `json:"opened_by,omitempty"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	OpeningCashAmount decimal.Decimal `json:"opening_cash_amount"`
	Status            string          `json:"status"`
	ReopenCount       int             `json:"reopen_count"`
	ReopenedAt        *time.Time      `json:"reopened_at,omitempty"`
}

// ClosureRecord is the persisted end-of-day reconciliation for one branch and
// calendar date. Transfers have no column of their own; they are stored
// inside OtherPaymentSales.
type ClosureRecord struct {
	ID                          string           `json:"id"`
	BranchID                    string           `json:"branch_id"`
	ClosureDate                 string           `json:"closure_date"`
	PosSessionID                string           `json:"pos_session_id,omitempty"`
	OpeningCashAmount           decimal.Decimal  `json:"opening_cash_amount"`
	TotalSales                  decimal.Decimal  `json:"total_sales"`
	TotalTransactions           int              `json:"total_transactions"`
	CashSales                   decimal.Decimal  `json:"cash_sales"`
	DebitCardSales              decimal.Decimal  `json:"debit_card_sales"`
	CreditCardSales             decimal.Decimal  `json:"credit_card_sales"`
	InstallmentsSales           decimal.Decimal  `json:"installments_sales"`
	OtherPaymentSales           decimal.Decimal  `json:"other_payment_sales"`
	TotalSubtotal               decimal.Decimal  `json:"total_subtotal"`
	TotalTax                    decimal.Decimal  `json:"total_tax"`
	TotalDiscounts              decimal.Decimal  `json:"total_discounts"`
	ExpectedCash                decimal.Decimal  `json:"expected_cash"`
	ActualCash                  *decimal.Decimal `json:"actual_cash"`
	CashDifference              decimal.Decimal  `json:"cash_difference"`
	CardMachineDebitTotal       *decimal.Decimal `json:"card_machine_debit_total"`
	CardMachineCreditTotal      *decimal.Decimal `json:"card_machine_credit_total"`
	CardMachineDebitDifference  decimal.Decimal  `json:"card_machine_debit_difference"`
	CardMachineCreditDifference decimal.Decimal  `json:"card_machine_credit_difference"`
	CardMachineDifference       decimal.Decimal  `json:"card_machine_difference"`
	Notes                       string           `json:"notes,omitempty"`
	Discrepancies               string           `json:"discrepancies,omitempty"`
	Status                      string           `json:"status"`
	OpenedAt                    time.Time        `json:"opened_at"`
	ClosedAt                    *time.Time       `json:"closed_at,omitempty"`
	ClosedBy                    string           `json:"closed_by,omitempty"`
	CreatedAt                   time.Time        `json:"created_at"`
	UpdatedAt                   time.Time        `json:"updated_at"`
}

// ClosureSummary is the read model behind the closure screen: what the till
// should hold for a branch and date, before anything is persisted.
type ClosureSummary struct {
	Date                 string          `json:"date"`
	RequestedDate        string          `json:"requested_date,omitempty"`
	BranchID             string          `json:"branch_id"`
	PosSessionID         string          `json:"pos_session_id,omitempty"`
	PaymentSource        string          `json:"payment_source"`
	TotalSales           decimal.Decimal `json:"total_sales"`
	TotalTransactions    int             `json:"total_transactions"`
	CashSales            decimal.Decimal `json:"cash_sales"`
	DebitCardSales       decimal.Decimal `json:"debit_card_sales"`
	CreditCardSales      decimal.Decimal `json:"credit_card_sales"`
	TransferSales        decimal.Decimal `json:"transfer_sales"`
	InstallmentsSales    decimal.Decimal `json:"installments_sales"`
	OtherPaymentSales    decimal.Decimal `json:"other_payment_sales"`
	TotalSubtotal        decimal.Decimal `json:"total_subtotal"`
	TotalTax             decimal.Decimal `json:"total_tax"`
	TotalDiscounts       decimal.Decimal `json:"total_discounts"`
	Orders               []Order         `json:"orders"`
	OpeningCashAmount    decimal.Decimal `json:"opening_cash_amount"`
	ExpectedCash         decimal.Decimal `json:"expected_cash"`
	SessionPaymentsCount int             `json:"session_payments_count"`
	PreviousClosure      *ClosureRecord  `json:"previous_closure,omitempty"`
}

type ClosureRequest struct {
	BranchID               string           `json:"branch_id,omitempty"`
	ClosureDate            string           `json:"closure_date"`
	OpeningCashAmount      *decimal.Decimal `json:"opening_cash_amount"`
	ActualCash             *decimal.Decimal `json:"actual_cash"`
	CardMachineDebitTotal  *decimal.Decimal `json:"card_machine_debit_total"`
	CardMachineCreditTotal *decimal.Decimal `json:"card_machine_credit_total"`
	Notes                  string           `json:"notes"`
	Discrepancies          string           `json:"discrepancies"`
	Status                 string           `json:"status,omitempty"`
}

type ClosureResult struct {
	Success bool          `json:"success"`
	Closure ClosureRecord `json:"closure"`
}

type ClosureListResponse struct {
	Closures []ClosureRecord `json:"closures"`
}

// BranchContext is what the identity layer resolved for the caller. BranchID
// is empty when no branch could be resolved.
type BranchContext struct {
	BranchID       string `json:"branch_id"`
	IsSuperAdmin   bool   `json:"is_super_admin"`
	OrganizationID string `json:"organization_id"`
}

type SessionOpenRequest struct {
	BranchID          string          `json:"branch_id,omitempty"`
	OpeningCashAmount decimal.Decimal `json:"opening_cash_amount"`
}

type SessionResponse struct {
	Session OperatingSession `json:"session"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username       string
	Role           string
	BranchID       string
	OrganizationID string
}

func (a Actor) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username       string
	Password       string
	Role           string
	BranchID       string
	OrganizationID string
	Active         bool
	CreatedAt      time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	ClosureStatusDraft  = "draft"
	ClosureStatusClosed = "closed"
)

const (
	PaymentMethodCash         = "cash"
	PaymentMethodDebit        = "debit"
	PaymentMethodCredit       = "credit"
	PaymentMethodTransfer     = "transfer"
	PaymentMethodInstallments = "installments"
	PaymentMethodCheck        = "check"
	PaymentMethodUnclassified = "unclassified"
)

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleStaff      = "staff"
)
