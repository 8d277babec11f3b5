package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/merchant"
	"escrowflow/notify"
	"escrowflow/offer"
	"escrowflow/order"
)

// stubAuth resolves any "tok-<id>:<role>" bearer token into a principal so
// route tests can pick identities without issuing real JWTs.
type stubAuth struct {
	registerErr error
	loginErr    error
}

func (s *stubAuth) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return &auth.User{ID: "user-1", Email: req.Email, DisplayName: req.DisplayName, Role: auth.RoleBuyer}, nil
}

func (s *stubAuth) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if s.loginErr != nil {
		return auth.LoginResult{}, s.loginErr
	}
	return auth.LoginResult{Token: "tok-user-1:buyer", User: auth.User{ID: "user-1", Email: req.Email}}, nil
}

func (s *stubAuth) VerifyToken(token string) (auth.Principal, error) {
	rest, ok := strings.CutPrefix(token, "tok-")
	if !ok {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	id, role, ok := strings.Cut(rest, ":")
	if !ok {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	return auth.Principal{UserID: id, Role: auth.Role(role)}, nil
}

type stubOffers struct {
	created   offer.CreateParams
	createErr error
	toggleErr error
}

func (s *stubOffers) GetByID(ctx context.Context, id string) (offer.Offer, error) {
	if id == "missing" {
		return offer.Offer{}, offer.ErrNotFound
	}
	return offer.Offer{ID: id, MerchantID: "merchant-1", IsActive: true}, nil
}

func (s *stubOffers) ListActive(ctx context.Context, offerType string, limit int) ([]offer.Offer, error) {
	return []offer.Offer{{ID: "offer-1", OfferType: "usd_to_eur", IsActive: true}}, nil
}

func (s *stubOffers) ListMine(ctx context.Context, p auth.Principal) ([]offer.Offer, error) {
	return []offer.Offer{{ID: "offer-1", MerchantID: p.UserID}}, nil
}

func (s *stubOffers) Create(ctx context.Context, p auth.Principal, params offer.CreateParams) (offer.Offer, error) {
	if s.createErr != nil {
		return offer.Offer{}, s.createErr
	}
	s.created = params
	return offer.Offer{ID: "offer-new", MerchantID: p.UserID, OfferType: params.OfferType, IsActive: true}, nil
}

func (s *stubOffers) ToggleActive(ctx context.Context, p auth.Principal, offerID string) (offer.Offer, error) {
	if s.toggleErr != nil {
		return offer.Offer{}, s.toggleErr
	}
	return offer.Offer{ID: offerID, MerchantID: p.UserID, IsActive: false}, nil
}

type stubOrders struct {
	order      order.Order
	created    order.CreateParams
	createErr  error
	confirmErr error
	proofErr   error
	cancelErr  error
	rateErr    error
}

func (s *stubOrders) Get(ctx context.Context, p auth.Principal, id string) (order.Order, error) {
	if s.order.ID == "" {
		return order.Order{}, order.ErrNotFound
	}
	return s.order, nil
}

func (s *stubOrders) List(ctx context.Context, p auth.Principal, limit int) ([]order.Order, error) {
	return []order.Order{s.order}, nil
}

func (s *stubOrders) Create(ctx context.Context, p auth.Principal, params order.CreateParams) (order.Order, error) {
	if s.createErr != nil {
		return order.Order{}, s.createErr
	}
	s.created = params
	s.order = order.Order{
		ID:      "order-new",
		BuyerID: p.UserID,
		OfferID: params.OfferID,
		Amount:  params.Amount,
		Status:  order.StatusPendingQuote,
	}
	return s.order, nil
}

func (s *stubOrders) Confirm(ctx context.Context, p auth.Principal, orderID string) error {
	return s.confirmErr
}

func (s *stubOrders) UploadPaymentProof(ctx context.Context, p auth.Principal, params order.PaymentProofParams) error {
	return s.proofErr
}

func (s *stubOrders) ApprovePayment(ctx context.Context, p auth.Principal, orderID string) error {
	return nil
}

func (s *stubOrders) RejectPayment(ctx context.Context, p auth.Principal, orderID, reason string) error {
	return nil
}

func (s *stubOrders) StartProcessing(ctx context.Context, p auth.Principal, orderID string) error {
	return nil
}

func (s *stubOrders) UploadDeliveryProof(ctx context.Context, p auth.Principal, params order.DeliveryProofParams) error {
	return nil
}

func (s *stubOrders) ConfirmReceived(ctx context.Context, p auth.Principal, orderID string) error {
	return nil
}

func (s *stubOrders) Cancel(ctx context.Context, p auth.Principal, orderID string) error {
	return s.cancelErr
}

func (s *stubOrders) Rate(ctx context.Context, p auth.Principal, params order.RateParams) (order.Rating, error) {
	if s.rateErr != nil {
		return order.Rating{}, s.rateErr
	}
	return order.Rating{ID: "rating-1", OrderID: params.OrderID, Score: params.Score}, nil
}

type stubDisputes struct {
	record     dispute.Record
	createErr  error
	resolveErr error
}

func (s *stubDisputes) Get(ctx context.Context, p auth.Principal, id string) (dispute.Record, error) {
	if s.record.ID == "" {
		return dispute.Record{}, dispute.ErrNotFound
	}
	return s.record, nil
}

func (s *stubDisputes) List(ctx context.Context, p auth.Principal, limit int) ([]dispute.Record, error) {
	return nil, nil
}

func (s *stubDisputes) Create(ctx context.Context, p auth.Principal, params dispute.CreateParams) (dispute.Record, error) {
	if s.createErr != nil {
		return dispute.Record{}, s.createErr
	}
	s.record = dispute.Record{ID: "dispute-1", OrderID: params.OrderID, BuyerID: p.UserID, Status: dispute.StatusPending}
	return s.record, nil
}

func (s *stubDisputes) AddMerchantStatement(ctx context.Context, p auth.Principal, disputeID, statement string) error {
	return nil
}

func (s *stubDisputes) StartReview(ctx context.Context, p auth.Principal, disputeID string) error {
	return nil
}

func (s *stubDisputes) Resolve(ctx context.Context, p auth.Principal, params dispute.ResolveParams) (dispute.Record, error) {
	if s.resolveErr != nil {
		return dispute.Record{}, s.resolveErr
	}
	s.record.Status = dispute.StatusResolvedBuyer
	return s.record, nil
}

func (s *stubDisputes) Close(ctx context.Context, p auth.Principal, disputeID, notes string) error {
	return nil
}

type stubMerchants struct{}

func (stubMerchants) GetByUserID(ctx context.Context, userID string) (merchant.Profile, error) {
	if userID == "missing" {
		return merchant.Profile{}, merchant.ErrProfileNotFound
	}
	return merchant.Profile{UserID: userID, CompletedOrders: 55, AverageRating: 4.6, Tier: merchant.TierGold}, nil
}

type stubFeed struct{}

func (stubFeed) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	return []notify.Notification{{ID: "n-1", RecipientID: recipientID, Kind: notify.KindOrderCreated}}, nil
}

type fixtures struct {
	offers   *stubOffers
	orders   *stubOrders
	disputes *stubDisputes
}

func newTestRouter(t *testing.T) (http.Handler, *fixtures) {
	t.Helper()
	f := &fixtures{
		offers:   &stubOffers{},
		orders:   &stubOrders{},
		disputes: &stubDisputes{},
	}
	srv := NewServer(&stubAuth{}, f.offers, f.orders, f.disputes, stubMerchants{}, stubFeed{})
	return srv.Router(), f
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")

	rec = doRequest(t, h, http.MethodGet, "/orders", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "bad token")

	rec = doRequest(t, h, http.MethodGet, "/offers", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "offer browsing is public")
}

func TestRequestIDHeader(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/offers", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/offers", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestCreateOrder(t *testing.T) {
	h, f := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/orders", "tok-buyer-1:buyer",
		`{"offer_id":"offer-1","amount":"105.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "offer-1", f.orders.created.OfferID)
	assert.True(t, f.orders.created.Amount.Equal(decimal.RequireFromString("105.00")))
	assert.Contains(t, rec.Body.String(), `"buyer_id":"buyer-1"`)
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/orders", "tok-buyer-1:buyer", `{"offer_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", order.ErrNotFound, http.StatusNotFound},
		{"forbidden", order.ErrForbidden, http.StatusForbidden},
		{"state conflict", order.ErrInvalidState, http.StatusConflict},
		{"inactive offer", order.ErrOfferInactive, http.StatusConflict},
		{"validation", &order.ValidationError{Field: "amount", Reason: "below offer minimum"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, f := newTestRouter(t)
			f.orders.createErr = tc.err
			rec := doRequest(t, h, http.MethodPost, "/orders", "tok-buyer-1:buyer",
				`{"offer_id":"offer-1","amount":"10"}`)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestOfferCooldownMapsToConflict(t *testing.T) {
	h, f := newTestRouter(t)
	f.offers.createErr = &offer.CooldownError{Remaining: 30 * time.Minute}

	rec := doRequest(t, h, http.MethodPost, "/offers", "tok-merchant-1:merchant",
		`{"offer_type":"usd_to_eur","rate":"0.91","min_amount":"10","max_amount":"1000"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "cooldown")
}

func TestOpenDispute(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/orders/order-1/dispute", "tok-buyer-1:buyer",
		`{"reason":"not received","statement":"nothing arrived"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"order_id":"order-1"`)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
}

func TestOpenDispute_Duplicate(t *testing.T) {
	h, f := newTestRouter(t)
	f.disputes.createErr = dispute.ErrAlreadyExists

	rec := doRequest(t, h, http.MethodPost, "/orders/order-1/dispute", "tok-buyer-1:buyer",
		`{"reason":"not received","statement":"nothing arrived"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveDispute(t *testing.T) {
	h, f := newTestRouter(t)
	f.disputes.record = dispute.Record{ID: "dispute-1", OrderID: "order-1", Status: dispute.StatusUnderReview}

	rec := doRequest(t, h, http.MethodPost, "/disputes/dispute-1/resolve", "tok-admin-1:admin",
		`{"resolution":"BUYER","notes":"buyer evidence conclusive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"resolved_buyer"`)
}

func TestResolveDispute_AlreadyTerminal(t *testing.T) {
	h, f := newTestRouter(t)
	f.disputes.resolveErr = dispute.ErrBadStatus

	rec := doRequest(t, h, http.MethodPost, "/disputes/dispute-1/resolve", "tok-admin-1:admin",
		`{"resolution":"BUYER","notes":""}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateOrder(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/orders/order-1/rate", "tok-buyer-1:buyer",
		`{"score":5,"comment":"smooth"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"score":5`)
}

func TestRateOrder_Duplicate(t *testing.T) {
	h, f := newTestRouter(t)
	f.orders.rateErr = order.ErrAlreadyRated

	rec := doRequest(t, h, http.MethodPost, "/orders/order-1/rate", "tok-buyer-1:buyer",
		`{"score":5,"comment":""}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetMerchantProfile(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/merchants/merchant-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier":"gold"`)

	rec = doRequest(t, h, http.MethodGet, "/merchants/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettlementSerialization(t *testing.T) {
	h, f := newTestRouter(t)
	settlement, err := order.CalculateSettlement(decimal.RequireFromString("105.00"), order.DefaultFeeSchedule())
	require.NoError(t, err)
	f.orders.order = order.Order{
		ID:         "order-1",
		BuyerID:    "buyer-1",
		Status:     order.StatusCompleted,
		Settlement: &settlement,
	}

	rec := doRequest(t, h, http.MethodGet, "/orders/order-1", "tok-buyer-1:buyer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"merchant_net_final":"97.41993495"`)
}

func TestListNotifications(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/me/notifications", "tok-buyer-1:buyer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"order.created"`)
}
