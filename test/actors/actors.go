package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/notify"
	"escrowflow/offer"
	"escrowflow/order"
)

// Deps bundles the live services the actors drive. Actors go through the
// service layer on purpose: the locks and conditional updates under test are
// the services' own, not hand-written SQL.
type Deps struct {
	Orders   *order.Service
	Disputes *dispute.Service
	Offers   *offer.Service
	Outbox   *notify.Outbox
}

// tolerable reports whether an error is an expected loser outcome under
// contention rather than a real failure.
func tolerable(err error) bool {
	if err == nil {
		return true
	}
	var cooldown *offer.CooldownError
	switch {
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrDisputed),
		errors.Is(err, order.ErrAlreadyRated),
		errors.Is(err, order.ErrOfferInactive),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, offer.ErrActiveOfferExists),
		errors.Is(err, dispute.ErrAlreadyExists),
		errors.Is(err, dispute.ErrOrderNotDisputable),
		errors.Is(err, dispute.ErrBadStatus),
		errors.As(err, &cooldown):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return connectionBlip(err)
}

// connectionBlip recognizes errors from the chaos actor killing backends.
func connectionBlip(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin shutdown, class 08 connection exceptions
		return pgErr.Code == "57P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "connection reset")
}

func pause(minMs, spreadMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(spreadMs)) * time.Millisecond)
}

// LifecycleDriver walks whole orders from creation to completion, one at a
// time, racing every transition against the other actors. Completed order IDs
// are published on done for the rater.
func LifecycleDriver(ctx context.Context, d Deps, buyer, merchant, admin auth.Principal, offerID string, done chan<- string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		amount := decimal.NewFromInt(int64(20 + rand.Intn(400)))
		o, err := d.Orders.Create(ctx, buyer, order.CreateParams{OfferID: offerID, Amount: amount})
		if !tolerable(err) {
			return fmt.Errorf("lifecycle create: %w", err)
		}
		if err != nil {
			pause(10, 30)
			continue
		}

		steps := []func() error{
			func() error { return d.Orders.Confirm(ctx, buyer, o.ID) },
			func() error {
				return d.Orders.UploadPaymentProof(ctx, buyer, order.PaymentProofParams{
					OrderID:        o.ID,
					TransactionID:  fmt.Sprintf("pp-%d", rand.Int63()),
					BeforeProofRef: "proofs/before.png",
					AfterProofRef:  "proofs/after.png",
					Confirmation:   "CONFIRM",
				})
			},
			// admin review step; a no-op ErrInvalidState when proofs
			// escrow directly
			func() error { return d.Orders.ApprovePayment(ctx, admin, o.ID) },
			func() error {
				return d.Orders.UploadDeliveryProof(ctx, merchant, order.DeliveryProofParams{
					OrderID:          o.ID,
					TransactionID:    fmt.Sprintf("dp-%d", rand.Int63()),
					RecipientAddress: "recipient@example.com",
					ProofRef:         "proofs/delivery.png",
					Confirmation:     "CONFIRM",
				})
			},
		}
		for _, step := range steps {
			if err := step(); !tolerable(err) {
				return fmt.Errorf("lifecycle step: %w", err)
			}
			pause(5, 15)
		}

		if err := d.Orders.ConfirmReceived(ctx, buyer, o.ID); !tolerable(err) {
			return fmt.Errorf("lifecycle confirm received: %w", err)
		} else if err == nil {
			select {
			case done <- o.ID:
			default:
			}
		}
		pause(10, 30)
	}
}

// ConfirmVsDispute drives orders to waiting_buyer_confirm, then fires
// confirm-received and dispute creation at the same order concurrently.
// Exactly one of the two may win; the loser must see a clean conflict.
func ConfirmVsDispute(ctx context.Context, d Deps, buyer, merchant, admin auth.Principal, offerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		o, err := d.Orders.Create(ctx, buyer, order.CreateParams{OfferID: offerID, Amount: decimal.NewFromInt(50)})
		if !tolerable(err) {
			return fmt.Errorf("race create: %w", err)
		}
		if err != nil {
			pause(20, 40)
			continue
		}
		if err := advanceToAwaitingConfirm(ctx, d, buyer, merchant, admin, o.ID); err != nil {
			if tolerable(err) {
				pause(20, 40)
				continue
			}
			return err
		}

		confirmErr := make(chan error, 1)
		disputeErr := make(chan error, 1)
		go func() { confirmErr <- d.Orders.ConfirmReceived(ctx, buyer, o.ID) }()
		go func() {
			_, err := d.Disputes.Create(ctx, buyer, dispute.CreateParams{
				OrderID:   o.ID,
				Reason:    "funds not received",
				Statement: "nothing arrived on my end",
			})
			disputeErr <- err
		}()

		ce, de := <-confirmErr, <-disputeErr
		if !tolerable(ce) {
			return fmt.Errorf("race confirm: %w", ce)
		}
		if !tolerable(de) {
			return fmt.Errorf("race dispute: %w", de)
		}
		if ce == nil && de == nil {
			return fmt.Errorf("order %s both completed and disputed", o.ID)
		}

		// if the dispute won, let the admin arbitrate it
		if de == nil {
			if err := arbitrate(ctx, d, admin, o.ID); !tolerable(err) {
				return fmt.Errorf("race arbitrate: %w", err)
			}
		}
		pause(20, 40)
	}
}

func advanceToAwaitingConfirm(ctx context.Context, d Deps, buyer, merchant, admin auth.Principal, orderID string) error {
	if err := d.Orders.Confirm(ctx, buyer, orderID); err != nil {
		return err
	}
	if err := d.Orders.UploadPaymentProof(ctx, buyer, order.PaymentProofParams{
		OrderID:        orderID,
		TransactionID:  fmt.Sprintf("pp-%d", rand.Int63()),
		BeforeProofRef: "proofs/before.png",
		AfterProofRef:  "proofs/after.png",
		Confirmation:   "CONFIRM",
	}); err != nil {
		return err
	}
	if err := d.Orders.ApprovePayment(ctx, admin, orderID); err != nil && !errors.Is(err, order.ErrInvalidState) {
		return err
	}
	return d.Orders.UploadDeliveryProof(ctx, merchant, order.DeliveryProofParams{
		OrderID:          orderID,
		TransactionID:    fmt.Sprintf("dp-%d", rand.Int63()),
		RecipientAddress: "recipient@example.com",
		ProofRef:         "proofs/delivery.png",
		Confirmation:     "CONFIRM",
	})
}

func arbitrate(ctx context.Context, d Deps, admin auth.Principal, orderID string) error {
	records, err := d.Disputes.List(ctx, admin, 100)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.OrderID != orderID || rec.Status.IsTerminal() {
			continue
		}
		if err := d.Disputes.StartReview(ctx, admin, rec.ID); !tolerable(err) {
			return err
		}
		res := dispute.ResolutionBuyer
		if rand.Intn(2) == 0 {
			res = dispute.ResolutionMerchant
		}
		if _, err := d.Disputes.Resolve(ctx, admin, dispute.ResolveParams{
			DisputeID:  rec.ID,
			Resolution: res,
			Notes:      "stress arbitration",
		}); !tolerable(err) {
			return err
		}
	}
	return nil
}

// OfferActivator hammers offer creation and toggling for one merchant. Under
// the guard, at most one create or reactivation per hour can ever succeed.
func OfferActivator(ctx context.Context, d Deps, merchant auth.Principal, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := d.Offers.Create(ctx, merchant, offer.CreateParams{
			OfferType: "usd_to_eur",
			Rate:      decimal.RequireFromString("0.91"),
			MinAmount: decimal.NewFromInt(10),
			MaxAmount: decimal.NewFromInt(1000),
		})
		if !tolerable(err) {
			return fmt.Errorf("activator create: %w", err)
		}

		mine, err := d.Offers.ListMine(ctx, merchant)
		if err != nil {
			return fmt.Errorf("activator list: %w", err)
		}
		if len(mine) > 0 {
			pick := mine[rand.Intn(len(mine))]
			if _, err := d.Offers.ToggleActive(ctx, merchant, pick.ID); !tolerable(err) {
				return fmt.Errorf("activator toggle: %w", err)
			}
		}
		pause(50, 100)
	}
}

// Rater rates completed orders as they come off the lifecycle driver, then
// tries a second rating which must be rejected.
func Rater(ctx context.Context, d Deps, buyer auth.Principal, completed <-chan string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case orderID := <-completed:
			score := 1 + rand.Intn(5)
			if _, err := d.Orders.Rate(ctx, buyer, order.RateParams{OrderID: orderID, Score: score}); !tolerable(err) {
				return fmt.Errorf("rate: %w", err)
			}
			if _, err := d.Orders.Rate(ctx, buyer, order.RateParams{OrderID: orderID, Score: 5}); err == nil {
				return fmt.Errorf("order %s accepted a second rating", orderID)
			} else if !tolerable(err) {
				return fmt.Errorf("re-rate: %w", err)
			}
		}
	}
}

// OutboxDrainer runs the delivery worker with a flaky sender so retry and
// failure accounting get exercised.
func OutboxDrainer(ctx context.Context, d Deps, stop <-chan struct{}) error {
	send := notify.Sender(func(ctx context.Context, n notify.Notification) error {
		if rand.Intn(10) == 0 {
			return errors.New("simulated delivery failure")
		}
		return nil
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := d.Outbox.Dispatch(ctx, send, 20); err != nil && !tolerable(err) {
			return fmt.Errorf("outbox dispatch: %w", err)
		}
		pause(50, 100)
	}
}
