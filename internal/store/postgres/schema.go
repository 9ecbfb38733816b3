package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Row models mirror the tables the raw SQL in this package reads and
// writes. They exist for schema migration only.

type orderRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	BranchID       string          `gorm:"size:64;not null;index:idx_orders_branch_created,priority:1"`
	CreatedAt      time.Time       `gorm:"not null;index:idx_orders_branch_created,priority:2"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(14,2)"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(14,2)"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(14,2)"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(14,2)"`
	PaymentMethod  string          `gorm:"size:32"`
	IsPOSSale      bool            `gorm:"not null;default:false"`
}

func (orderRow) TableName() string { return "orders" }

type paymentRow struct {
	ID            string          `gorm:"primaryKey;size:64"`
	OrderID       string          `gorm:"size:64;not null;index"`
	PosSessionID  *string         `gorm:"size:64;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2)"`
	PaymentMethod string          `gorm:"size:32"`
	PaidAt        time.Time       `gorm:"not null"`
}

func (paymentRow) TableName() string { return "order_payments" }

type sessionRow struct {
	ID                string          `gorm:"primaryKey;size:64"`
	BranchID          string          `gorm:"size:64;not null;index;index:idx_pos_sessions_open_branch,unique,where:status = 'open'"`
	OpenedBy          string          `gorm:"size:120"`
	OpenedAt          time.Time       `gorm:"not null"`
	ClosedAt          *time.Time      `gorm:"default:null"`
	OpeningCashAmount decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Status            string          `gorm:"size:16;not null"`
	ReopenCount       int             `gorm:"not null;default:0"`
	ReopenedAt        *time.Time      `gorm:"default:null"`
}

func (sessionRow) TableName() string { return "pos_sessions" }

type closureRow struct {
	ID                          string           `gorm:"primaryKey;size:64"`
	BranchID                    string           `gorm:"size:64;not null;uniqueIndex:idx_closure_branch_date,priority:1"`
	ClosureDate                 string           `gorm:"type:date;not null;uniqueIndex:idx_closure_branch_date,priority:2"`
	PosSessionID                *string          `gorm:"size:64"`
	OpeningCashAmount           decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	TotalSales                  decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	TotalTransactions           int              `gorm:"not null;default:0"`
	CashSales                   decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	DebitCardSales              decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	CreditCardSales             decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	InstallmentsSales           decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	OtherPaymentSales           decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	TotalSubtotal               decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	TotalTax                    decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	TotalDiscounts              decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	ExpectedCash                decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	ActualCash                  *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CashDifference              decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	CardMachineDebitTotal       *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CardMachineCreditTotal      *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CardMachineDebitDifference  decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	CardMachineCreditDifference decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	CardMachineDifference       decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0"`
	Notes                       string           `gorm:"type:text"`
	Discrepancies               string           `gorm:"type:text"`
	Status                      string           `gorm:"size:16;not null"`
	OpenedAt                    time.Time        `gorm:"not null"`
	ClosedAt                    *time.Time       `gorm:"default:null"`
	ClosedBy                    string           `gorm:"size:120"`
	CreatedAt                   time.Time        `gorm:"not null"`
	UpdatedAt                   time.Time        `gorm:"not null"`
}

func (closureRow) TableName() string { return "cash_register_closures" }

type auditLogRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	BranchID      string    `gorm:"size:64;not null;index:idx_audit_branch_created,priority:1"`
	ActorUsername string    `gorm:"size:120"`
	ActorRole     string    `gorm:"size:32"`
	Action        string    `gorm:"size:64;not null"`
	EntityType    string    `gorm:"size:64"`
	EntityID      string    `gorm:"size:64"`
	Detail        string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index:idx_audit_branch_created,priority:2"`
}

func (auditLogRow) TableName() string { return "audit_logs" }

type userRow struct {
	Username       string    `gorm:"primaryKey;size:120"`
	Password       string    `gorm:"not null"`
	Role           string    `gorm:"size:32;not null"`
	BranchID       string    `gorm:"size:64"`
	OrganizationID string    `gorm:"size:64"`
	Active         bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "app_users" }

// Migrate creates or updates the tables, the (branch_id, closure_date)
// unique index and the one-open-session-per-branch partial index.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := gorm.Open(gormpostgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return db.WithContext(ctx).AutoMigrate(
		&orderRow{},
		&paymentRow{},
		&sessionRow{},
		&closureRow{},
		&auditLogRow{},
		&userRow{},
	)
}
