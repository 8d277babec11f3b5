package notify

import "time"

// Kind tags the transition that produced a notification.
type Kind string

const (
	KindOrderCreated     Kind = "order.created"
	KindOrderConfirmed   Kind = "order.confirmed"
	KindPaymentSubmitted Kind = "order.payment_submitted"
	KindPaymentApproved  Kind = "order.payment_approved"
	KindPaymentRejected  Kind = "order.payment_rejected"
	KindProcessing       Kind = "order.processing"
	KindDelivered        Kind = "order.delivered"
	KindCompleted        Kind = "order.completed"
	KindCancelled        Kind = "order.cancelled"
	KindRated            Kind = "order.rated"
	KindDisputeOpened    Kind = "dispute.opened"
	KindDisputeResolved  Kind = "dispute.resolved"
)

// Status tracks delivery progress of an enqueued notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is a fire-and-forget message for one recipient. Rows are
// written inside the transaction that performs the transition and picked up
// by a delivery worker afterwards, so a delivery failure can never roll a
// transition back.
type Notification struct {
	ID          string
	RecipientID string
	Kind        Kind
	Title       string
	Body        string
	Link        string
	Status      Status
	Attempts    int
	CreatedAt   time.Time
	SentAt      *time.Time
}
