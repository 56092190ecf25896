package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeIntentAPI struct {
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntentAPI) Get(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

type fakeRefundAPI struct {
	params *stripe.RefundParams
	err    error
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Refund{ID: "re_1"}, nil
}

func newTestProvider(t *testing.T, clients stripeClients, secret string) *StripeProvider {
	t.Helper()
	if clients.sessions == nil {
		clients.sessions = &fakeSessionAPI{session: &stripe.CheckoutSession{ID: "cs_test"}}
	}
	if clients.intents == nil {
		clients.intents = &fakeIntentAPI{intent: &stripe.PaymentIntent{ID: "pi_test"}}
	}
	if clients.refunds == nil {
		clients.refunds = &fakeRefundAPI{}
	}
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: secret,
		Clients:       &clients,
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestCreateCheckoutSessionBuildsParams(t *testing.T) {
	sessions := &fakeSessionAPI{session: &stripe.CheckoutSession{
		ID:            "cs_123",
		URL:           "https://checkout.stripe.test/cs_123",
		ExpiresAt:     time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC).Unix(),
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_123"},
	}}
	provider := newTestProvider(t, stripeClients{sessions: sessions}, "whsec_test")

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:     6200,
		Currency:   "usd",
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
		Metadata:   map[string]string{MetadataOrderIDKey: "ord_01HZX"},
		Items: []CheckoutLineItem{
			{Name: "Ceramic mug", SKU: "MUG-1", Quantity: 2, Amount: 1800},
			{Name: "Shipping", Quantity: 1, Amount: 500},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_123" || session.IntentID != "pi_123" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.RedirectURL != "https://checkout.stripe.test/cs_123" {
		t.Fatalf("unexpected redirect url %q", session.RedirectURL)
	}

	params := sessions.params
	if params == nil {
		t.Fatalf("expected session params to be captured")
	}
	if got := stripe.StringValue(params.Mode); got != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("expected payment mode, got %q", got)
	}
	if params.Metadata[MetadataOrderIDKey] != "ord_01HZX" {
		t.Fatalf("expected order id metadata, got %v", params.Metadata)
	}
	if params.PaymentIntentData == nil || params.PaymentIntentData.Metadata[MetadataOrderIDKey] != "ord_01HZX" {
		t.Fatalf("expected order id mirrored onto intent metadata")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if stripe.Int64Value(first.Quantity) != 2 || stripe.Int64Value(first.PriceData.UnitAmount) != 1800 {
		t.Fatalf("unexpected first line item %+v", first)
	}
}

func signPayload(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookNormalisesCompletedSession(t *testing.T) {
	const secret = "whsec_unit"
	provider := newTestProvider(t, stripeClients{}, secret)

	payload := []byte(`{
		"id": "evt_01",
		"api_version": "2024-04-10",
		"type": "checkout.session.completed",
		"created": 1741608000,
		"data": {"object": {
			"id": "cs_123",
			"amount_total": 6200,
			"currency": "usd",
			"metadata": {"orderId": "ord_01HZX"},
			"customer_details": {"email": "buyer@example.com"}
		}}
	}`)

	event, err := provider.VerifyWebhook(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventPaymentSucceeded {
		t.Fatalf("expected kind %q, got %q", EventPaymentSucceeded, event.Kind)
	}
	if event.ID != "evt_01" || event.OrderID != "ord_01HZX" || event.SessionID != "cs_123" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.AmountTotal != 6200 || event.Currency != "usd" {
		t.Fatalf("unexpected amounts %+v", event)
	}
	if event.ReceiptEmail != "buyer@example.com" {
		t.Fatalf("unexpected receipt email %q", event.ReceiptEmail)
	}
}

func TestVerifyWebhookNormalisesSucceededIntent(t *testing.T) {
	const secret = "whsec_unit"
	provider := newTestProvider(t, stripeClients{}, secret)

	payload := []byte(`{
		"id": "evt_07",
		"api_version": "2024-04-10",
		"type": "payment_intent.succeeded",
		"created": 1741608000,
		"data": {"object": {
			"id": "pi_77",
			"amount": 6200,
			"currency": "usd",
			"metadata": {"orderId": "ord_01HZX"},
			"receipt_email": "buyer@example.com"
		}}
	}`)

	event, err := provider.VerifyWebhook(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventPaymentSucceeded {
		t.Fatalf("expected kind %q, got %q", EventPaymentSucceeded, event.Kind)
	}
	if event.OrderID != "ord_01HZX" || event.IntentID != "pi_77" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.AmountTotal != 6200 || event.Currency != "usd" {
		t.Fatalf("unexpected amounts %+v", event)
	}
	if event.ReceiptEmail != "buyer@example.com" {
		t.Fatalf("unexpected receipt email %q", event.ReceiptEmail)
	}
}

func TestVerifyWebhookRejectsTamperedPayload(t *testing.T) {
	const secret = "whsec_unit"
	provider := newTestProvider(t, stripeClients{}, secret)

	payload := []byte(`{"id":"evt_02","type":"checkout.session.completed","created":1741608000,"data":{"object":{"id":"cs_1"}}}`)
	header := signPayload(secret, payload, time.Now())
	tampered := []byte(`{"id":"evt_02","type":"checkout.session.completed","created":1741608000,"data":{"object":{"id":"cs_EVIL"}}}`)

	if _, err := provider.VerifyWebhook(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookPassesThroughUnhandledTypes(t *testing.T) {
	const secret = "whsec_unit"
	provider := newTestProvider(t, stripeClients{}, secret)

	payload := []byte(`{"id":"evt_03","api_version":"2024-04-10","type":"customer.created","created":1741608000,"data":{"object":{"id":"cus_1"}}}`)
	event, err := provider.VerifyWebhook(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventUnhandled {
		t.Fatalf("expected unhandled kind, got %q", event.Kind)
	}
	if event.RawType != "customer.created" {
		t.Fatalf("expected raw type preserved, got %q", event.RawType)
	}
}

func TestVerifyWebhookFailureEvent(t *testing.T) {
	const secret = "whsec_unit"
	provider := newTestProvider(t, stripeClients{}, secret)

	payload := []byte(`{
		"id": "evt_04",
		"api_version": "2024-04-10",
		"type": "payment_intent.payment_failed",
		"created": 1741608000,
		"data": {"object": {
			"id": "pi_9",
			"amount": 6200,
			"currency": "usd",
			"metadata": {"orderId": "ord_02"},
			"last_payment_error": {"message": "card_declined"}
		}}
	}`)

	event, err := provider.VerifyWebhook(payload, signPayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventPaymentFailed {
		t.Fatalf("expected failure kind, got %q", event.Kind)
	}
	if event.OrderID != "ord_02" || event.IntentID != "pi_9" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.FailureMessage != "card_declined" {
		t.Fatalf("unexpected failure message %q", event.FailureMessage)
	}
}

func TestManagerResolvesDefaultProvider(t *testing.T) {
	provider := newTestProvider(t, stripeClients{}, "whsec_unit")
	manager, err := NewManager(map[string]Provider{"stripe": provider})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := manager.CreateCheckoutSession(context.Background(), "", CheckoutSessionRequest{
		Currency:   "usd",
		SuccessURL: "https://shop.test/s",
		CancelURL:  "https://shop.test/c",
	}); err != nil {
		t.Fatalf("CreateCheckoutSession via manager: %v", err)
	}

	if _, err := manager.VerifyWebhook("", []byte("{}"), "t=0,v1=bad"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature through the manager, got %v", err)
	}
}
