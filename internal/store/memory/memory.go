package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"cashclose/internal/domain"
	"cashclose/internal/store"
	"cashclose/internal/xid"
)

const (
	DemoBranchID       = "branch-centro"
	DemoOrganizationID = "org-demo"
)

type Store struct {
	mu                  sync.RWMutex
	orders              []domain.Order
	payments            []domain.Payment
	sessionsByID        map[string]domain.OperatingSession
	openSessionByBranch map[string]string
	closuresByKey       map[string]domain.ClosureRecord
	auditLogs           []domain.AuditLog
	usersByUsername     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// dev defaults are used with a warning when they are unset. The postgres
// store never sees these accounts.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"superadmin", adminPwd, domain.RoleSuperAdmin, ""},
		{"admin", adminPwd, domain.RoleAdmin, DemoBranchID},
		{"cashier", cashierPwd, domain.RoleStaff, DemoBranchID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:       u.username,
			Password:       string(hash),
			Role:           u.role,
			BranchID:       u.branchID,
			OrganizationID: DemoOrganizationID,
			Active:         true,
			CreatedAt:      now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with no user accounts.
func New() *Store {
	return &Store{
		orders:              make([]domain.Order, 0, 64),
		payments:            make([]domain.Payment, 0, 64),
		sessionsByID:        make(map[string]domain.OperatingSession),
		openSessionByBranch: make(map[string]string),
		closuresByKey:       make(map[string]domain.ClosureRecord),
		auditLogs:           make([]domain.AuditLog, 0, 128),
		usersByUsername:     make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

// AddOrder records a sale. Orders are owned by the point-of-sale flow; the
// store only exposes this for seeding and tests.
func (s *Store) AddOrder(order domain.Order) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	s.orders = append(s.orders, order)
	return order
}

func (s *Store) AddPayment(payment domain.Payment) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	s.payments = append(s.payments, payment)
	return payment
}

func (s *Store) ListPOSOrders(_ context.Context, branchID string, window store.DayWindow) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, 16)
	for _, order := range s.orders {
		if order.BranchID != branchID || !order.IsPOSSale {
			continue
		}
		if !window.Contains(order.CreatedAt) {
			continue
		}
		result = append(result, order)
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) ListPaymentsBySession(_ context.Context, sessionID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, 16)
	for _, payment := range s.payments {
		if sessionID != "" && payment.SessionID == sessionID {
			result = append(result, payment)
		}
	}
	return result, nil
}

func (s *Store) ListPaymentsByOrders(_ context.Context, orderIDs []string) ([]domain.Payment, error) {
	if len(orderIDs) == 0 {
		return []domain.Payment{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = struct{}{}
	}
	result := make([]domain.Payment, 0, len(orderIDs))
	for _, payment := range s.payments {
		if _, ok := wanted[payment.OrderID]; ok {
			result = append(result, payment)
		}
	}
	return result, nil
}

func (s *Store) GetOpenSession(_ context.Context, branchID string) (*domain.OperatingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessionByBranch[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) GetLatestSessionOpenedBetween(_ context.Context, branchID string, window store.DayWindow) (*domain.OperatingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.OperatingSession
	for _, session := range s.sessionsByID {
		if session.BranchID != branchID || !window.Contains(session.OpenedAt) {
			continue
		}
		if latest == nil || session.OpenedAt.After(latest.OpenedAt) {
			found := session
			latest = &found
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) GetSessionByID(_ context.Context, sessionID string) (*domain.OperatingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.OperatingSession) (*domain.OperatingSession, error) {
	if strings.TrimSpace(session.BranchID) == "" || session.OpeningCashAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessionByBranch[session.BranchID]; exists {
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

	s.sessionsByID[session.ID] = session
	s.openSessionByBranch[session.BranchID] = session.ID
	return &session, nil
}

// CloseSession only transitions a session that is still open; a session
// closed concurrently reports ErrNotFound.
func (s *Store) CloseSession(_ context.Context, sessionID string, closedAt time.Time) (*domain.OperatingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt

	delete(s.openSessionByBranch, session.BranchID)
	s.sessionsByID[sessionID] = session
	return &session, nil
}

func (s *Store) ReopenSession(_ context.Context, sessionID string, reopenedAt time.Time) (*domain.OperatingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusClosed {
		return nil, store.ErrNotFound
	}
	if _, busy := s.openSessionByBranch[session.BranchID]; busy {
		return nil, store.ErrInvalidInput
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	session.ReopenCount++
	at := reopenedAt.UTC()
	session.ReopenedAt = &at

	s.sessionsByID[sessionID] = session
	s.openSessionByBranch[session.BranchID] = sessionID
	return &session, nil
}

func (s *Store) GetClosure(_ context.Context, branchID string, date string) (*domain.ClosureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closure, exists := s.closuresByKey[closureKey(branchID, date)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneClosure(closure), nil
}

// CreateClosure enforces the (branch, date) uniqueness the database
// guarantees with a unique index.
func (s *Store) CreateClosure(_ context.Context, closure domain.ClosureRecord) (*domain.ClosureRecord, error) {
	if strings.TrimSpace(closure.BranchID) == "" || strings.TrimSpace(closure.ClosureDate) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := closureKey(closure.BranchID, closure.ClosureDate)
	if _, exists := s.closuresByKey[key]; exists {
		return nil, store.ErrClosureExists
	}
	now := time.Now().UTC()
	if closure.ID == "" {
		closure.ID = xid.New("cls")
	}
	closure.CreatedAt = now
	closure.UpdatedAt = now
	s.closuresByKey[key] = *cloneClosure(closure)
	return cloneClosure(closure), nil
}

func (s *Store) UpdateClosure(_ context.Context, closure domain.ClosureRecord, expected store.ClosureVersion) (*domain.ClosureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := closureKey(closure.BranchID, closure.ClosureDate)
	existing, exists := s.closuresByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	if existing.Status != expected.Status || !existing.UpdatedAt.Equal(expected.UpdatedAt) {
		return nil, store.ErrClosureExists
	}
	now := time.Now().UTC()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Nanosecond)
	}
	closure.ID = existing.ID
	closure.CreatedAt = existing.CreatedAt
	closure.UpdatedAt = now
	s.closuresByKey[key] = *cloneClosure(closure)
	return cloneClosure(closure), nil
}

func (s *Store) ListClosures(_ context.Context, branchID string, from string, to string, limit int) ([]domain.ClosureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ClosureRecord, 0, 32)
	for _, closure := range s.closuresByKey {
		if branchID != "" && closure.BranchID != branchID {
			continue
		}
		if from != "" && closure.ClosureDate < from {
			continue
		}
		if to != "" && closure.ClosureDate > to {
			continue
		}
		result = append(result, *cloneClosure(closure))
	}
	slices.SortFunc(result, func(a, b domain.ClosureRecord) int {
		if a.ClosureDate == b.ClosureDate {
			return strings.Compare(a.BranchID, b.BranchID)
		}
		return strings.Compare(b.ClosureDate, a.ClosureDate)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func closureKey(branchID string, date string) string {
	return branchID + "::" + date
}

func cloneClosure(src domain.ClosureRecord) *domain.ClosureRecord {
	dup := src
	if src.ActualCash != nil {
		v := *src.ActualCash
		dup.ActualCash = &v
	}
	if src.CardMachineDebitTotal != nil {
		v := *src.CardMachineDebitTotal
		dup.CardMachineDebitTotal = &v
	}
	if src.CardMachineCreditTotal != nil {
		v := *src.CardMachineCreditTotal
		dup.CardMachineCreditTotal = &v
	}
	if src.ClosedAt != nil {
		v := *src.ClosedAt
		dup.ClosedAt = &v
	}
	return &dup
}
