package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_engine/internal/apierr"
	"github.com/congo-pay/wallet_engine/internal/idempotency"
	"github.com/congo-pay/wallet_engine/internal/ledger"
	"github.com/congo-pay/wallet_engine/internal/logging"
	"github.com/congo-pay/wallet_engine/internal/metrics"
	"github.com/congo-pay/wallet_engine/internal/notification"
	"github.com/congo-pay/wallet_engine/internal/provider"
)

const secret = "sk_test_webhook"

type emails map[string]string

func (e emails) Email(_ context.Context, userID string) (string, error) {
	if v, ok := e[userID]; ok {
		return v, nil
	}
	return "", errors.New("unknown user")
}

type recordingPoller struct {
	mu   sync.Mutex
	refs []string
}

func (p *recordingPoller) ReconcileReference(_ context.Context, reference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs = append(p.refs, reference)
	return nil
}

// flakyStore fails the next unit of work.
type flakyStore struct {
	ledger.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) Atomically(ctx context.Context, fn func(u ledger.Unit) error) error {
	f.mu.Lock()
	fail := f.fail
	f.fail = false
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.Store.Atomically(ctx, fn)
}

type fixture struct {
	store    *flakyStore
	provider *provider.Static
	svc      *Service
	owner    string
	wallet   ledger.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &flakyStore{Store: ledger.NewInMemory()}
	owner := uuid.NewString()
	w := ledger.Wallet{ID: uuid.NewString(), Number: "3000000001", OwnerID: owner, Currency: "NGN"}
	require.NoError(t, store.CreateWallet(context.Background(), w))

	prov := provider.NewStatic()
	svc := NewService(store, prov, idempotency.NewMemoryController(time.Hour, time.Minute),
		emails{owner: "owner@example.com"}, notification.NewLoggerNotifier(logging.Discard()),
		metrics.New(), logging.Discard(), Config{WebhookSecret: secret})
	return &fixture{store: store, provider: prov, svc: svc, owner: owner, wallet: w}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.store.ReadBalance(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	return b
}

func chargeEvent(id int64, reference string, amount int64, currency string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":%d,"reference":%q,"amount":%d,"currency":%q,"status":"success"}}`,
		id, reference, amount, currency))
}

func (f *fixture) deliver(body []byte) (string, error) {
	return f.svc.HandleWebhook(context.Background(), body, provider.SignHex(secret, body))
}

func TestInitializeDepositRecordsPendingTransaction(t *testing.T) {
	f := newFixture(t)

	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.AuthorizationURL)

	tx, err := f.store.GetTransactionByExternalRef(context.Background(), checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.Equal(t, ledger.KindDeposit, tx.Kind)
	assert.Equal(t, "deposit:"+checkout.Reference, tx.IdempotencyKey)
	assert.Zero(t, f.balance(t))

	_, err = f.svc.InitializeDeposit(context.Background(), f.owner, -5)
	assert.Error(t, err)
}

func TestWebhookDeliveredTwiceCreditsOnce(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)
	body := chargeEvent(1, checkout.Reference, 1_000, "NGN")

	outcome, err := f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)

	outcome, err = f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(1_000), f.balance(t))

	evt, err := f.store.GetWebhookEvent(context.Background(), "charge.success:1")
	require.NoError(t, err)
	assert.Equal(t, ledger.EventCompleted, evt.Status)

	tx, err := f.store.GetTransactionByExternalRef(context.Background(), checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 750)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// distinct event ids for the same reference must still credit once
			_, _ = f.deliver(chargeEvent(int64(100+i%2), checkout.Reference, 750, "NGN"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(750), f.balance(t))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)
	body := chargeEvent(7, checkout.Reference, 1_000, "NGN")

	_, err = f.svc.HandleWebhook(context.Background(), body, provider.SignHex("wrong", body))
	assert.ErrorIs(t, err, provider.ErrSignatureInvalid)
	_, err = f.svc.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, provider.ErrSignatureInvalid)

	assert.Zero(t, f.balance(t))
	_, err = f.store.GetWebhookEvent(context.Background(), "charge.success:7")
	assert.Error(t, err)
}

func TestWebhookFailureLeavesEventUnprocessed(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)
	body := chargeEvent(9, checkout.Reference, 1_000, "NGN")

	f.store.mu.Lock()
	f.store.fail = true
	f.store.mu.Unlock()

	_, err = f.deliver(body)
	require.Error(t, err)
	evt, err := f.store.GetWebhookEvent(context.Background(), "charge.success:9")
	require.NoError(t, err)
	assert.Equal(t, ledger.EventUnprocessed, evt.Status)
	assert.Zero(t, f.balance(t))

	// the provider retry completes it
	outcome, err := f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(1_000), f.balance(t))
}

func TestWebhookAmountMismatchFailsDeposit(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)

	outcome, err := f.deliver(chargeEvent(11, checkout.Reference, 100, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	assert.Zero(t, f.balance(t))

	tx, err := f.store.GetTransactionByExternalRef(context.Background(), checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.Equal(t, OutcomeAmountMismatch, tx.Metadata["reason"])

	// a later correct event does not revive it but is flagged for an operator
	outcome, err = f.deliver(chargeEvent(12, checkout.Reference, 1_000, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, outcome)
	assert.Zero(t, f.balance(t))
}

func TestWebhookLogAndAcceptCases(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(chargeEvent(20, "no-such-ref", 500, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownReference, outcome)

	body := []byte(`{"event":"subscription.create","data":{"id":21,"reference":"sub"}}`)
	outcome, err = f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	evt, err := f.store.GetWebhookEvent(context.Background(), "subscription.create:21")
	require.NoError(t, err)
	assert.Equal(t, ledger.EventIgnored, evt.Status)

	_, err = f.deliver([]byte(`not json`))
	assert.Error(t, err)
}

func TestTransferEventTriggersPayoutPoll(t *testing.T) {
	f := newFixture(t)
	poller := &recordingPoller{}
	f.svc.WithPayoutPoller(poller)

	outcome, err := f.deliver([]byte(`{"event":"transfer.success","data":{"id":30,"reference":"wth-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	assert.Equal(t, []string{"wth-1"}, poller.refs)
}

func TestDepositStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failing, err := f.svc.InitializeDeposit(ctx, f.owner, 300)
	require.NoError(t, err)
	f.provider.SetChargeStatus(failing.Reference, provider.ChargeFailed)
	resp, err := f.svc.Status(ctx, f.owner, failing.Reference)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusFailed), resp.Status)

	paid, err := f.svc.InitializeDeposit(ctx, f.owner, 400)
	require.NoError(t, err)
	f.provider.SetChargeStatus(paid.Reference, provider.ChargeSuccess)
	resp, err = f.svc.Status(ctx, f.owner, paid.Reference)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPending), resp.Status)
	assert.NotEmpty(t, resp.Note)
	assert.Zero(t, f.balance(t))

	// another user cannot see it
	other := uuid.NewString()
	require.NoError(t, f.store.CreateWallet(ctx, ledger.Wallet{ID: uuid.NewString(), Number: "3000000002", OwnerID: other, Currency: "NGN"}))
	_, err = f.svc.Status(ctx, other, paid.Reference)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestAbandonedCheckoutPaidLaterIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout, err := f.svc.InitializeDeposit(ctx, f.owner, 1_000)
	require.NoError(t, err)

	// the customer left checkout, then came back and paid
	f.provider.SetChargeStatus(checkout.Reference, provider.ChargeAbandoned)
	resp, err := f.svc.Status(ctx, f.owner, checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPending), resp.Status)
	assert.NotEmpty(t, resp.Note)

	outcome, err := f.deliver(chargeEvent(40, checkout.Reference, 1_000, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(1_000), f.balance(t))

	tx, err := f.store.GetTransactionByExternalRef(ctx, checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
}

func TestChargeForFailedDepositIsFlaggedForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout, err := f.svc.InitializeDeposit(ctx, f.owner, 1_000)
	require.NoError(t, err)

	f.provider.SetChargeStatus(checkout.Reference, provider.ChargeFailed)
	resp, err := f.svc.Status(ctx, f.owner, checkout.Reference)
	require.NoError(t, err)
	require.Equal(t, string(ledger.StatusFailed), resp.Status)

	outcome, err := f.deliver(chargeEvent(41, checkout.Reference, 1_000, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, outcome)
	assert.Zero(t, f.balance(t))

	tx, err := f.store.GetTransactionByExternalRef(ctx, checkout.Reference)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.Equal(t, true, tx.Metadata["review_required"])
	assert.Equal(t, "charge.success:41", tx.Metadata["review_event_id"])

	evt, err := f.store.GetWebhookEvent(ctx, "charge.success:41")
	require.NoError(t, err)
	assert.Equal(t, ledger.EventCompleted, evt.Status)

	// a redelivery is a plain duplicate
	outcome, err = f.deliver(chargeEvent(41, checkout.Reference, 1_000, "NGN"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestWebhookHandler(t *testing.T) {
	f := newFixture(t)
	checkout, err := f.svc.InitializeDeposit(context.Background(), f.owner, 1_000)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: apierr.Handler(logging.Discard())})
	app.Post("/webhook", NewHandler(f.svc).Webhook)

	post := func(body []byte, sig string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(provider.SignatureHeader, sig)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	body := chargeEvent(40, checkout.Reference, 1_000, "NGN")
	assert.Equal(t, http.StatusUnauthorized, post(body, "deadbeef").StatusCode)

	resp := post(body, provider.SignHex(secret, body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack WebhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, OutcomeCredited, ack.Status)

	assert.Equal(t, http.StatusOK, post(body, provider.SignHex(secret, body)).StatusCode)
	assert.Equal(t, int64(1_000), f.balance(t))
}
