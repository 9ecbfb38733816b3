package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cashclose/internal/cache"
	"cashclose/internal/domain"
	"cashclose/internal/store"
	"cashclose/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// FieldError is a validation failure on one request field. Code is a stable
// identifier the HTTP layer turns into a localized message.
type FieldError struct {
	Field string
	Code  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Code)
}

func (e *FieldError) Unwrap() error {
	return store.ErrInvalidInput
}

const (
	CodeBranchRequired        = "branch_required"
	CodeDateRequired          = "date_required"
	CodeDateInvalid           = "date_invalid"
	CodeOpeningAmountRequired = "opening_amount_required"
	CodeOpeningAmountInvalid  = "opening_amount_invalid"
	CodeStatusInvalid         = "status_invalid"
	CodeLimitInvalid          = "limit_invalid"
)

var ErrSessionAlreadyOpen = fmt.Errorf("%w: an operating session is already open for this branch", store.ErrInvalidInput)

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
	logger     zerolog.Logger
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration, logger zerolog.Logger) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// ResolveBranch picks the branch a request operates on. Super admins may
// target any branch; everyone else is pinned to the branch in their context.
func ResolveBranch(bc domain.BranchContext, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	branchID := bc.BranchID
	if bc.IsSuperAdmin && requested != "" {
		branchID = requested
	}
	if strings.TrimSpace(branchID) == "" {
		return "", &FieldError{Field: "branch_id", Code: CodeBranchRequired}
	}
	return branchID, nil
}

func parseDate(field string, raw string) (string, error) {
	date := strings.TrimSpace(raw)
	if date == "" {
		return "", &FieldError{Field: field, Code: CodeDateRequired}
	}
	if _, err := time.Parse(store.DateLayout, date); err != nil {
		return "", &FieldError{Field: field, Code: CodeDateInvalid}
	}
	return date, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, bc domain.BranchContext, requestedBranch string, date string, limit int) ([]domain.AuditLog, error) {
	branchID := ""
	if !bc.IsSuperAdmin || strings.TrimSpace(requestedBranch) != "" {
		resolved, err := ResolveBranch(bc, requestedBranch)
		if err != nil {
			return nil, err
		}
		branchID = resolved
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := parseDate("date", date)
		if err != nil {
			return nil, err
		}
		day, _ := time.Parse(store.DateLayout, parsed)
		from = day.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func (s *Service) invalidateSummaries(ctx context.Context, branchID string, dates ...string) {
	keys := make([]string, 0, len(dates))
	seen := make(map[string]struct{}, len(dates))
	for _, date := range dates {
		if date == "" {
			continue
		}
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		keys = append(keys, cache.SummaryKey(branchID, date))
	}
	if err := s.summaries.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Str("branch_id", branchID).Strs("keys", keys).Msg("failed to invalidate closure summary cache")
	}
}

func actorUsername(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return actor.Username
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
