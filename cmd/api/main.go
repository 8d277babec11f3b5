package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowflow/auth"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/httpapi"
	"escrowflow/merchant"
	"escrowflow/notify"
	"escrowflow/offer"
	"escrowflow/order"
)

const (
	outboxInterval = 5 * time.Second
	outboxBatch    = 50
	sweepInterval  = 5 * time.Minute
	staleAfter     = 24 * time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	outbox := notify.NewOutbox(pool)
	stats := merchant.NewStats(pool)
	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	offerService := offer.NewService(pool, offer.NewRepository(pool))
	orderService := order.NewService(pool, order.NewRepository(pool), stats, outbox,
		order.DefaultFeeSchedule(), os.Getenv("REQUIRE_PAYMENT_REVIEW") == "true")
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), orderService, outbox)

	api := httpapi.NewServer(authService, offerService, orderService, disputeService, stats, outbox)
	server := httpapi.NewHTTPServer(addr, api)

	go runOutboxWorker(ctx, outbox)
	go runExpirySweep(ctx, orderService)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

// runOutboxWorker drains pending notifications on a fixed cadence. Delivery
// is a log line here; a real channel plugs in as a notify.Sender.
func runOutboxWorker(ctx context.Context, outbox *notify.Outbox) {
	send := notify.Sender(func(ctx context.Context, n notify.Notification) error {
		log.Printf("notify %s: %s [%s]", n.RecipientID, n.Title, n.Kind)
		return nil
	})

	ticker := time.NewTicker(outboxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := outbox.Dispatch(ctx, send, outboxBatch); err != nil {
				log.Printf("outbox dispatch: %v", err)
			}
		}
	}
}

// runExpirySweep expires any non-terminal order idle past the cutoff;
// disputed orders are left for arbitration.
func runExpirySweep(ctx context.Context, orders *order.Service) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orders.ExpireStale(ctx, time.Now().Add(-staleAfter))
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expired %d stale orders", n)
			}
		}
	}
}
