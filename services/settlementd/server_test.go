package settlementd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tappay/config"
	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/journal"
	"tappay/observability/logging"
)

const testSecret = "settlementd-test-secret"

var (
	payer    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	cart     = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000fee000")
)

type harness struct {
	t       *testing.T
	cfg     *config.Config
	mem     *journal.Memory
	core    *Core
	server  *Server
	handler http.Handler
	now     time.Time
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Journal.Backend = "memory"
	cfg.Settlement.FeeRecipient = treasury.Hex()
	cfg.Sponsorship.InitialPool = 1000
	cfg.Faucet.Amount = "500"
	cfg.Faucet.Cooldown = config.Duration{Duration: time.Hour}
	return cfg
}

func newHarness(t *testing.T, mem *journal.Memory) *harness {
	t.Helper()
	if mem == nil {
		mem = journal.NewMemory()
	}
	now := time.Now().UTC().Truncate(time.Second)
	logger := logging.New(io.Discard, "settlementd", "test")
	cfg := testConfig()
	core, err := NewCore(cfg, mem, logger, WithCoreMetrics(nil), WithCoreClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = core.Recover(context.Background())
	require.NoError(t, err)
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: cfg.Auth.Issuer, Audience: cfg.Auth.Audience}, logger)
	require.NoError(t, err)
	server := NewServer(core, auth, NewRateLimiter(0, 0), logger)
	server.clock = func() time.Time { return now }
	return &harness{t: t, cfg: cfg, mem: mem, core: core, server: server, handler: server.Handler(), now: now}
}

func (h *harness) token(subject common.Address, scopes ...string) string {
	h.t.Helper()
	token, err := IssueToken(testSecret, h.cfg.Auth.Issuer, h.cfg.Auth.Audience, subject.Hex(), scopes, time.Hour)
	require.NoError(h.t, err)
	return token
}

func (h *harness) dialOptions(token string) *websocket.DialOptions {
	return &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}}}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seed funds the payer and brings the coffee cart to an active vendor with a
// handle.
func (h *harness) seed() {
	h.t.Helper()
	op := h.token(operator, ScopeOperator)
	vendorToken := h.token(cart)

	rec := h.do(http.MethodPost, "/v1/deposits", op, depositRequest{Account: payer.Hex(), Amount: "5000", Source: "test"})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/vendors", vendorToken, registerVendorRequest{BusinessName: "Coffee Cart", Phone: "+15550100"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(h.t, "pending", decode[vendorView](h.t, rec).Status)

	rec = h.do(http.MethodPost, "/v1/vendors/"+cart.Hex()+"/phone-verification", op, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/v1/vendors/"+cart.Hex()+"/reputation", op, map[string]uint64{"score": 200})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(h.t, "active", decode[vendorView](h.t, rec).Status)

	rec = h.do(http.MethodPost, "/v1/handles", vendorToken, registerHandleRequest{Handle: "coffee-cart", Class: "vendor"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(h.t, "coffee-cart.tappay.eth", decode[handleView](h.t, rec).Name)
}

func TestCoffeeCartPaymentOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	payerToken := h.token(payer)

	body := payRequest{Payee: "coffee-cart", Amount: "1000", IdempotencyKey: "order-1"}
	rec := h.do(http.MethodPost, "/v1/payments", payerToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[payResponse](t, rec)
	require.Equal(t, "25", first.Settlement.Fee)
	require.Equal(t, "975", first.Settlement.Net)
	require.Equal(t, cart.Hex(), first.Settlement.Payee)
	require.Equal(t, treasury.Hex(), first.Settlement.FeeRecipient)
	require.Nil(t, first.Sponsorship)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, first.Settlement.ID, decode[payResponse](t, rec).Settlement.ID)

	body.Amount = "999"
	rec = h.do(http.MethodPost, "/v1/payments", payerToken, body)
	require.Equal(t, http.StatusConflict, rec.Code)

	transfer := func() *httptest.ResponseRecorder {
		data, err := json.Marshal(payRequest{Payee: cart.Hex(), Amount: "500"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/transfers", bytes.NewReader(data))
		req.Header.Set("Authorization", "Bearer "+payerToken)
		req.Header.Set("Idempotency-Key", "tip-1")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}
	rec = transfer()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tip := decode[payResponse](t, rec)
	require.Equal(t, "tip-1", tip.Settlement.IdempotencyKey)
	rec = transfer()
	require.Equal(t, tip.Settlement.ID, decode[payResponse](t, rec).Settlement.ID)

	rec = h.do(http.MethodGet, "/v1/accounts/"+payer.Hex()+"/balance", payerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3500", decode[map[string]string](t, rec)["balance"])

	rec = h.do(http.MethodGet, "/v1/settlements/"+first.Settlement.ID, h.token(cart), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/v1/settlements/"+first.Settlement.ID, h.token(treasury), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/accounts/"+payer.Hex()+"/settlements?format=csv", payerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Checksum-SHA256"))
	require.Contains(t, rec.Body.String(), "coffee-cart,1000,25,975")

	rec = h.do(http.MethodGet, "/v1/accounts/"+payer.Hex()+"/settlements?format=parquet", payerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/vnd.apache.parquet", rec.Header().Get("Content-Type"))
	require.Len(t, rec.Header().Get("X-Checksum-SHA256"), 64)
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PAR1")))

	rec = h.do(http.MethodGet, "/v1/accounts/"+payer.Hex()+"/settlements?format=xml", payerToken, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentErrorsMapToStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	payerToken := h.token(payer)

	rec := h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "no-such-shop", Amount: "10"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "coffee-cart", Amount: "7000"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decode[errorResponse](t, rec)
	require.Equal(t, "2000", resp.Shortfall)
	require.Equal(t, string(coreerrors.KindResourceExhaustion), resp.Kind)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "coffee-cart", Amount: "ten"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "coffee-cart", Amount: "10", Denomination: "reference"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(http.MethodPost, "/v1/payments", "", payRequest{Payee: "coffee-cart", Amount: "10"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/deposits", payerToken, depositRequest{Account: payer.Hex(), Amount: "10"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReferencePaymentAfterRateUpdate(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()

	rec := h.do(http.MethodPut, "/v1/rates", h.token(payer), setRateRequest{Numerator: "2", Denominator: "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPut, "/v1/rates", h.token(operator, ScopeRateUpdater), setRateRequest{Numerator: "2", Denominator: "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/rates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(1), decode[rateView](t, rec).Version)

	rec = h.do(http.MethodPost, "/v1/transfers", h.token(payer), payRequest{Payee: cart.Hex(), Amount: "100", Denomination: "reference"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[payResponse](t, rec)
	require.Equal(t, "200", resp.Settlement.Gross)
	require.Equal(t, "0", resp.Settlement.Fee)
	require.NotNil(t, resp.Settlement.Rate)
}

func TestSponsoredPaymentAndPool(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	payerToken := h.token(payer)

	rec := h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "coffee-cart", Amount: "100", Sponsored: true, EstimatedCost: 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[payResponse](t, rec)
	require.NotNil(t, resp.Sponsorship)
	require.True(t, resp.Sponsorship.Admitted)
	require.Equal(t, uint64(700), resp.Sponsorship.PoolBalance)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, payRequest{Payee: "coffee-cart", Amount: "100", Sponsored: true, EstimatedCost: 900})
	require.Equal(t, http.StatusOK, rec.Code, "denied sponsorship must not block the payment")
	resp = decode[payResponse](t, rec)
	require.False(t, resp.Sponsorship.Admitted)
	require.Equal(t, "pool_exhausted", resp.Sponsorship.Reason)
	require.Equal(t, uint64(200), resp.Sponsorship.Shortfall)

	rec = h.do(http.MethodPost, "/v1/sponsorship/pool", payerToken, fundPoolRequest{Amount: 10})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPost, "/v1/sponsorship/pool", h.token(operator, ScopeOperator), fundPoolRequest{Amount: 300})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(1000), decode[map[string]uint64](t, rec)["poolBalance"])

	rec = h.do(http.MethodGet, "/v1/sponsorship/usage/"+payer.Hex(), payerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(300), decode[usageView](t, rec).DayConsumed)

	rec = h.do(http.MethodPost, "/v1/sponsorship/authorize", payerToken, authorizeRequest{EstimatedCost: 60_000})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "per_operation_cap_exceeded", decode[decisionView](t, rec).Reason)
}

func TestSponsoredRetryChargesPoolOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	payerToken := h.token(payer)
	body := payRequest{Payee: "coffee-cart", Amount: "100", IdempotencyKey: "k1", Sponsored: true, EstimatedCost: 300}

	rec := h.do(http.MethodPost, "/v1/payments", payerToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[payResponse](t, rec)
	require.True(t, first.Sponsorship.Admitted)
	require.False(t, first.Sponsorship.Replayed)

	rec = h.do(http.MethodPost, "/v1/payments", payerToken, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[payResponse](t, rec)
	require.Equal(t, first.Settlement.ID, second.Settlement.ID)
	require.True(t, second.Sponsorship.Admitted)
	require.True(t, second.Sponsorship.Replayed)
	require.Equal(t, uint64(700), second.Sponsorship.PoolBalance)
	require.Equal(t, uint64(700), h.core.Sponsorship.PoolBalance())
	require.Equal(t, uint64(300), h.core.Sponsorship.Usage(payer, h.now).DayConsumed)
	require.Equal(t, big.NewInt(4900), h.core.Settlement.Balance(payer))

	restored := newHarness(t, h.mem)
	rec = restored.do(http.MethodPost, "/v1/payments", restored.token(payer), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	third := decode[payResponse](t, rec)
	require.Equal(t, first.Settlement.ID, third.Settlement.ID)
	require.True(t, third.Sponsorship.Replayed)
	require.Equal(t, uint64(700), restored.core.Sponsorship.PoolBalance())
	require.Equal(t, big.NewInt(4900), restored.core.Settlement.Balance(payer))
}

func TestSponsorshipFailureDoesNotBlockPayment(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()

	h.mem.FailNext(errors.New("disk full"))
	rec := h.do(http.MethodPost, "/v1/payments", h.token(payer), payRequest{Payee: "coffee-cart", Amount: "100", Sponsored: true, EstimatedCost: 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[payResponse](t, rec)
	require.NotEmpty(t, resp.Settlement.ID)
	require.NotNil(t, resp.Sponsorship)
	require.False(t, resp.Sponsorship.Admitted)
	require.Equal(t, "sponsorship_unavailable", resp.Sponsorship.Reason)
	require.Contains(t, resp.Sponsorship.Error, "disk full")
	require.Equal(t, uint64(1000), resp.Sponsorship.PoolBalance)

	require.Equal(t, big.NewInt(4900), h.core.Settlement.Balance(payer))
	require.Equal(t, uint64(1000), h.core.Sponsorship.PoolBalance())
	require.Zero(t, h.core.Sponsorship.Usage(payer, h.now).DayConsumed)
}

func TestFailedSponsoredPaymentKeepsSingleDebit(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	payerToken := h.token(payer)
	body := payRequest{Payee: "coffee-cart", Amount: "7000", IdempotencyKey: "big-1", Sponsored: true, EstimatedCost: 300}

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, "/v1/payments", payerToken, body)
		require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	}
	require.Equal(t, uint64(700), h.core.Sponsorship.PoolBalance())
	require.Equal(t, uint64(300), h.core.Sponsorship.Usage(payer, h.now).DayConsumed)
	require.Equal(t, big.NewInt(5000), h.core.Settlement.Balance(payer))
}

func TestFaucetClaimCooldown(t *testing.T) {
	h := newHarness(t, nil)
	token := h.token(payer)

	rec := h.do(http.MethodPost, "/v1/faucet/claim", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "500", decode[faucetResponse](t, rec).Amount)

	rec = h.do(http.MethodPost, "/v1/faucet/claim", token, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3600", rec.Header().Get("Retry-After"))
	require.Equal(t, int64(3600), decode[faucetResponse](t, rec).SecondsRemaining)
}

func TestVendorSuspensionRequiresOperator(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()

	rec := h.do(http.MethodPost, "/v1/vendors/"+cart.Hex()+"/suspend", h.token(payer), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPost, "/v1/vendors/"+cart.Hex()+"/suspend", h.token(operator, ScopeOperator), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "suspended", decode[vendorView](t, rec).Status)

	rec = h.do(http.MethodPost, "/v1/payments", h.token(payer), payRequest{Payee: "coffee-cart", Amount: "10"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodGet, "/v1/accounts/"+cart.Hex()+"/handle", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "coffee-cart", decode[map[string]string](t, rec)["handle"])
}

func TestRecoverRebuildsState(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	rec := h.do(http.MethodPost, "/v1/payments", h.token(payer), payRequest{Payee: "coffee-cart", Amount: "1000", Sponsored: true, EstimatedCost: 100})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/v1/faucet/claim", h.token(payer), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	restored := newHarness(t, h.mem)
	require.Equal(t, big.NewInt(4500), restored.core.Settlement.Balance(payer))
	require.Equal(t, big.NewInt(975), restored.core.Settlement.Balance(cart))
	require.Equal(t, big.NewInt(25), restored.core.Settlement.Balance(treasury))
	require.True(t, restored.core.Vendors.IsActive(cart))
	require.Equal(t, uint64(900), restored.core.Sponsorship.PoolBalance())
	owner, err := restored.core.Names.Resolve("coffee-cart.tappay.eth")
	require.NoError(t, err)
	require.Equal(t, cart, owner)

	rec = restored.do(http.MethodPost, "/v1/faucet/claim", restored.token(payer), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestEventStreamReplaysBacklog(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?cursor=0"
	conn, _, err := websocket.Dial(ctx, url, h.dialOptions(h.token(operator, ScopeOperator)))
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var update events.FeedUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	require.Equal(t, uint64(1), update.Sequence)
	require.Equal(t, events.TypeBalanceDeposited, update.Event.Type)

	rec := h.do(http.MethodPost, "/v1/transfers", h.token(payer), payRequest{Payee: cart.Hex(), Amount: "1"})
	require.Equal(t, http.StatusOK, rec.Code)
	for {
		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &update))
		if update.Event.Type == events.TypeSettlementCompleted {
			require.Equal(t, "p2p", update.Event.Attributes["kind"])
			return
		}
	}
}

func TestEventStreamScopedToCaller(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()

	rec := h.do(http.MethodGet, "/v1/events/stream?cursor=0", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	srv := httptest.NewServer(h.handler)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?cursor=0"
	conn, _, err := websocket.Dial(ctx, url, h.dialOptions(h.token(cart)))
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Payer to treasury does not involve the cart and must not be streamed.
	rec = h.do(http.MethodPost, "/v1/transfers", h.token(payer), payRequest{Payee: treasury.Hex(), Amount: "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/v1/transfers", h.token(payer), payRequest{Payee: cart.Hex(), Amount: "1"})
	require.Equal(t, http.StatusOK, rec.Code)

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var update events.FeedUpdate
		require.NoError(t, json.Unmarshal(data, &update))
		require.NotEqual(t, events.TypeBalanceDeposited, update.Event.Type)
		require.True(t, mentions(update, cart.Hex()), "unexpected %s event", update.Event.Type)
		if update.Event.Type == events.TypeSettlementCompleted {
			require.Equal(t, "1", update.Event.Attributes["gross"])
			return
		}
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	h := newHarness(t, nil)
	h.server.limiter = NewRateLimiter(1, 1)
	h.handler = h.server.Handler()

	rec := h.do(http.MethodGet, "/v1/sponsorship/pool", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/v1/sponsorship/pool", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Zero(t, h.server.limiter.Prune())
	require.Len(t, h.server.limiter.visitors, 1)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "tappay", Audience: "settlementd"}, nil)
	require.NoError(t, err)

	good, err := IssueToken(testSecret, "tappay", "settlementd", payer.Hex(), []string{ScopeOperator}, time.Minute)
	require.NoError(t, err)
	caller, err := auth.Authenticate(good)
	require.NoError(t, err)
	require.Equal(t, payer, caller.Account)
	require.True(t, caller.Has(ScopeOperator))

	wrongSecret, err := IssueToken("other", "tappay", "settlementd", payer.Hex(), nil, time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongSecret)
	require.Error(t, err)

	wrongAudience, err := IssueToken(testSecret, "tappay", "gateway", payer.Hex(), nil, time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongAudience)
	require.Error(t, err)

	expired, err := IssueToken(testSecret, "tappay", "settlementd", payer.Hex(), nil, -time.Hour)
	require.NoError(t, err)
	_, err = auth.Authenticate(expired)
	require.Error(t, err)

	handleSubject, err := IssueToken(testSecret, "tappay", "settlementd", "coffee-cart", nil, time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(handleSubject)
	require.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          coreerrors.New("x", coreerrors.ErrInvalidAmount, ""),
		http.StatusForbidden:           coreerrors.New("x", coreerrors.ErrUnauthorized, ""),
		http.StatusNotFound:            coreerrors.New("x", coreerrors.ErrUnresolvedPayee, ""),
		http.StatusConflict:            coreerrors.New("x", coreerrors.ErrInactiveVendor, ""),
		http.StatusPaymentRequired:     coreerrors.New("x", coreerrors.ErrInsufficientBalance, ""),
		http.StatusTooManyRequests:     coreerrors.New("x", coreerrors.ErrDailyCapExceeded, ""),
		http.StatusGatewayTimeout:      coreerrors.New("x", coreerrors.ErrDependencyTimeout, ""),
		http.StatusServiceUnavailable:  coreerrors.New("x", coreerrors.ErrPersistence, ""),
		http.StatusInternalServerError: errors.New("boom"),
	}
	for status, err := range cases {
		require.Equal(t, status, statusFor(err), err.Error())
	}
	require.Equal(t, http.StatusGatewayTimeout, statusFor(coreerrors.Wrap("lock", coreerrors.ErrDependencyTimeout, context.Canceled)))
}
