package offer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/auth"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	GetByID(ctx context.Context, id string) (Offer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error)
	ListActive(ctx context.Context, offerType string, limit int) ([]Offer, error)
	ListForMerchant(ctx context.Context, merchantID string) ([]Offer, error)
	LockActivationState(ctx context.Context, tx pgx.Tx, merchantID string) (*time.Time, error)
	HasOtherActive(ctx context.Context, tx pgx.Tx, merchantID, excludeID string) (bool, error)
	Insert(ctx context.Context, tx pgx.Tx, merchantID string, p CreateParams, active bool) (Offer, error)
	SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) error
	TouchActivation(ctx context.Context, tx pgx.Tx, merchantID string) error
}

// Service enforces the activation guard: at most one active offer per
// merchant, at most one activation per hour. Both guard writes (active flag,
// cooldown timestamp) commit in the same transaction.
type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo, now: time.Now}
}

// GetByID returns one offer.
func (s *Service) GetByID(ctx context.Context, id string) (Offer, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns active offers for browsing buyers.
func (s *Service) ListActive(ctx context.Context, offerType string, limit int) ([]Offer, error) {
	return s.repo.ListActive(ctx, offerType, limit)
}

// ListMine returns the caller's offers.
func (s *Service) ListMine(ctx context.Context, p auth.Principal) ([]Offer, error) {
	return s.repo.ListForMerchant(ctx, p.UserID)
}

// Create validates and inserts a new offer. Creation counts as an activation
// attempt, so the guard applies and a guard violation rejects the creation
// outright.
func (s *Service) Create(ctx context.Context, p auth.Principal, params CreateParams) (Offer, error) {
	if !p.IsMerchant() {
		return Offer{}, ErrForbidden
	}
	if strings.TrimSpace(params.OfferType) == "" {
		return Offer{}, &ValidationError{Field: "offer_type", Reason: "required"}
	}
	if !params.Rate.IsPositive() {
		return Offer{}, &ValidationError{Field: "rate", Reason: "must be positive"}
	}
	if !params.MinAmount.IsPositive() {
		return Offer{}, &ValidationError{Field: "min_amount", Reason: "must be positive"}
	}
	if params.MaxAmount.LessThan(params.MinAmount) {
		return Offer{}, &ValidationError{Field: "max_amount", Reason: "must be at least min_amount"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.checkGuard(ctx, tx, p.UserID, ""); err != nil {
		return Offer{}, err
	}

	o, err := s.repo.Insert(ctx, tx, p.UserID, params, true)
	if err != nil {
		return Offer{}, err
	}
	if err := s.repo.TouchActivation(ctx, tx, p.UserID); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit create: %w", err)
	}
	return o, nil
}

// ToggleActive flips the offer's active flag. Deactivation is unconditional
// and leaves the cooldown untouched; activation passes through the guard.
func (s *Service) ToggleActive(ctx context.Context, p auth.Principal, offerID string) (Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.MerchantID != p.UserID && !p.IsAdmin() {
		return Offer{}, ErrForbidden
	}

	if o.IsActive {
		if err := s.repo.SetActive(ctx, tx, o.ID, false); err != nil {
			return Offer{}, err
		}
		o.IsActive = false
	} else {
		// Admin override covers deactivation only; reactivating is the
		// merchant's own call and subject to the guard.
		if o.MerchantID != p.UserID {
			return Offer{}, ErrForbidden
		}
		if err := s.checkGuard(ctx, tx, o.MerchantID, o.ID); err != nil {
			return Offer{}, err
		}
		if err := s.repo.SetActive(ctx, tx, o.ID, true); err != nil {
			return Offer{}, err
		}
		if err := s.repo.TouchActivation(ctx, tx, o.MerchantID); err != nil {
			return Offer{}, err
		}
		o.IsActive = true
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit toggle: %w", err)
	}
	return o, nil
}

// checkGuard holds the merchant profile lock while validating the cooldown
// and the single-active-offer invariant.
func (s *Service) checkGuard(ctx context.Context, tx pgx.Tx, merchantID, excludeOfferID string) error {
	last, err := s.repo.LockActivationState(ctx, tx, merchantID)
	if err != nil {
		return err
	}
	if remaining := CooldownRemaining(last, s.now()); remaining > 0 {
		return &CooldownError{Remaining: remaining}
	}
	active, err := s.repo.HasOtherActive(ctx, tx, merchantID, excludeOfferID)
	if err != nil {
		return err
	}
	if active {
		return ErrActiveOfferExists
	}
	return nil
}
