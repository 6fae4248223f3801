package settlementd

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	coreerrors "tappay/core/errors"
	"tappay/crypto"
	"tappay/integrations/exports"
	"tappay/native/names"
	"tappay/native/settlement"
	"tappay/native/sponsorship"
	"tappay/native/vendor"
)

const (
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "Idempotency-Key"
)

// Server exposes the settlement core over HTTP.
type Server struct {
	core    *Core
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	clock   func() time.Time
}

// NewServer constructs the HTTP surface for core.
func NewServer(core *Core, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{core: core, auth: auth, limiter: limiter, logger: logger.With("component", "http"), clock: time.Now}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pub chi.Router) {
		pub.Use(s.limiter.Middleware("public"))
		pub.Get("/v1/handles/{name}", s.handleResolve)
		pub.Get("/v1/accounts/{account}/handle", s.handleReverseLookup)
		pub.Get("/v1/vendors/{account}", s.handleGetVendor)
		pub.Get("/v1/rates", s.handleGetRate)
		pub.Get("/v1/sponsorship/pool", s.handlePoolBalance)
	})

	r.Group(func(priv chi.Router) {
		priv.Use(s.auth.Middleware)
		priv.Use(s.limiter.Middleware("private"))
		priv.Post("/v1/payments", s.handlePay(settlement.KindVendor))
		priv.Post("/v1/transfers", s.handlePay(settlement.KindP2P))
		priv.Get("/v1/settlements/{id}", s.handleGetSettlement)
		priv.Get("/v1/accounts/{account}/settlements", s.handleListSettlements)
		priv.Get("/v1/accounts/{account}/balance", s.handleBalance)
		priv.Get("/v1/events/stream", s.handleEventStream)
		priv.Post("/v1/deposits", s.handleDeposit)

		priv.Post("/v1/vendors", s.handleRegisterVendor)
		priv.Post("/v1/vendors/{account}/phone-verification", s.handlePhoneVerification)
		priv.Post("/v1/vendors/{account}/reputation", s.handleReputation)
		priv.Post("/v1/vendors/{account}/suspend", s.handleSuspend)

		priv.Post("/v1/handles", s.handleRegisterHandle)
		priv.Put("/v1/rates", s.handleSetRate)

		priv.Post("/v1/sponsorship/authorize", s.handleAuthorize)
		priv.Post("/v1/sponsorship/pool", s.handleFundPool)
		priv.Get("/v1/sponsorship/usage/{account}", s.handleUsage)

		priv.Post("/v1/faucet/claim", s.handleFaucetClaim)
	})

	return otelhttp.NewHandler(r, "settlementd")
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return coreerrors.Newf("http.decode", coreerrors.ErrInvalidFormat, "invalid request body: %v", err)
	}
	return nil
}

// decodeOptionalBody is decodeBody that accepts an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return coreerrors.Newf("http.decode", coreerrors.ErrInvalidFormat, "invalid request body: %v", err)
	}
	return nil
}

func parseAmount(op, raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, coreerrors.Newf(op, coreerrors.ErrInvalidAmount, "amount %q is not an integer", raw)
	}
	return amount, nil
}

func mustCaller(r *http.Request) Caller {
	caller, _ := CallerFrom(r.Context())
	return caller
}

type payRequest struct {
	Payee          string `json:"payee"`
	Amount         string `json:"amount"`
	Denomination   string `json:"denomination"`
	IdempotencyKey string `json:"idempotencyKey"`
	// Sponsored asks the sponsorship pool to bear EstimatedCost.
	Sponsored     bool   `json:"sponsored"`
	EstimatedCost uint64 `json:"estimatedCost"`
}

type payResponse struct {
	Settlement  settlementView `json:"settlement"`
	Sponsorship *decisionView  `json:"sponsorship,omitempty"`
}

func (s *Server) handlePay(kind settlement.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := mustCaller(r)
		var req payRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		amount, err := parseAmount("settlement.pay", req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		denom := settlement.Denomination(strings.ToLower(strings.TrimSpace(req.Denomination)))
		if denom == "" {
			denom = settlement.DenominationNative
		}

		key := strings.TrimSpace(req.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(idempotencyHeader))
		}

		// Sponsorship is advisory: a guard failure is reported alongside the
		// settlement and never blocks the payment itself.
		var decision *decisionView
		if req.Sponsored {
			ref := ""
			if key != "" {
				ref = "settlement:" + key
			}
			var view decisionView
			d, err := s.core.Sponsorship.AuthorizeReference(r.Context(), caller.Account, ref, req.EstimatedCost, s.clock())
			if err != nil {
				s.logger.Warn("sponsorship unavailable", "account", caller.Account.Hex(), "cost", req.EstimatedCost, "error", err)
				view = decisionView{
					Reason:      string(sponsorship.ReasonUnavailable),
					Cost:        req.EstimatedCost,
					PoolBalance: s.core.Sponsorship.PoolBalance(),
					Error:       err.Error(),
				}
			} else {
				view = decisionViewOf(d)
			}
			decision = &view
		}

		payReq := settlement.PayRequest{
			Payer:          caller.Account,
			Payee:          req.Payee,
			Amount:         amount,
			Denomination:   denom,
			IdempotencyKey: key,
		}
		var rec settlement.Record
		if kind == settlement.KindVendor {
			rec, err = s.core.Settlement.Pay(r.Context(), payReq)
		} else {
			rec, err = s.core.Settlement.Transfer(r.Context(), payReq)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payResponse{Settlement: settlementViewOf(rec), Sponsorship: decision})
	}
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.core.Settlement.Record(chi.URLParam(r, "id"))
	caller := mustCaller(r)
	if !ok || (rec.Payer != caller.Account && rec.Payee != caller.Account && !caller.Has(ScopeOperator)) {
		writeError(w, coreerrors.New("settlement.get", coreerrors.ErrNotFound, "settlement not found"))
		return
	}
	writeJSON(w, http.StatusOK, settlementViewOf(rec))
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	caller := mustCaller(r)
	if addr != caller.Account && !caller.Has(ScopeOperator) {
		writeError(w, coreerrors.New("settlement.list", coreerrors.ErrUnauthorized, "history belongs to another account"))
		return
	}
	records := s.core.Settlement.Records(addr)
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "json":
		views := make([]settlementView, 0, len(records))
		for _, rec := range records {
			views = append(views, settlementViewOf(rec))
		}
		writeJSON(w, http.StatusOK, views)
	case "csv", "jsonl", "parquet":
		var (
			data        []byte
			checksum    string
			contentType string
		)
		switch format {
		case "csv":
			contentType = "text/csv"
			data, checksum, err = exports.SettlementsCSV(records)
		case "jsonl":
			contentType = "application/x-ndjson"
			data, checksum, err = exports.SettlementsJSONL(records)
		default:
			contentType = "application/vnd.apache.parquet"
			data, checksum, err = exports.SettlementsParquet(records)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Checksum-SHA256", checksum)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeError(w, coreerrors.Newf("settlement.list", coreerrors.ErrInvalidFormat, "unsupported format %q", format))
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	caller := mustCaller(r)
	if addr != caller.Account && !caller.Has(ScopeOperator) {
		writeError(w, coreerrors.New("bank.balance", coreerrors.ErrUnauthorized, "balance belongs to another account"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": addr.Hex(), "balance": s.core.Settlement.Balance(addr).String()})
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Source  string `json:"source"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := crypto.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("settlement.deposit", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.core.Settlement.Deposit(r.Context(), addr, amount, req.Source, mustCaller(r).Has(ScopeOperator))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": addr.Hex(), "balance": balance.String()})
}

type registerVendorRequest struct {
	BusinessName string `json:"businessName"`
	Phone        string `json:"phone"`
}

func (s *Server) handleRegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req registerVendorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.core.Vendors.Register(r.Context(), mustCaller(r).Account, req.BusinessName, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vendorViewOf(rec))
}

func (s *Server) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, ok := s.core.Vendors.Vendor(addr)
	if !ok {
		writeError(w, coreerrors.New("vendor.get", coreerrors.ErrNotFound, "vendor not found"))
		return
	}
	writeJSON(w, http.StatusOK, vendorViewOf(rec))
}

func (s *Server) requireOperator(w http.ResponseWriter, r *http.Request, op string) bool {
	if mustCaller(r).Has(ScopeOperator) {
		return true
	}
	writeError(w, coreerrors.New(op, coreerrors.ErrUnauthorized, "operator role required"))
	return false
}

type phoneVerificationRequest struct {
	Verified *bool `json:"verified"`
}

func (s *Server) handlePhoneVerification(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r, "vendor.phone") {
		return
	}
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req phoneVerificationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	verified := req.Verified == nil || *req.Verified
	rec, err := s.core.Vendors.SetPhoneVerified(r.Context(), addr, verified)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vendorViewOf(rec))
}

type reputationRequest struct {
	// Score, when absent, triggers a refresh from the reputation service.
	Score *uint64 `json:"score"`
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r, "vendor.reputation") {
		return
	}
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req reputationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var rec vendor.Record
	if req.Score != nil {
		rec, err = s.core.Vendors.SetReputationScore(r.Context(), addr, *req.Score)
	} else {
		rec, err = s.core.Vendors.RefreshReputation(r.Context(), addr)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vendorViewOf(rec))
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.core.Vendors.Suspend(r.Context(), addr, mustCaller(r).Has(ScopeOperator))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vendorViewOf(rec))
}

type registerHandleRequest struct {
	Handle string `json:"handle"`
	Class  string `json:"class"`
}

func (s *Server) handleRegisterHandle(w http.ResponseWriter, r *http.Request) {
	var req registerHandleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := mustCaller(r)
	class := names.Class(strings.ToLower(strings.TrimSpace(req.Class)))
	if class == "" {
		class = names.ClassPersonal
	}
	rec, err := s.core.Names.RegisterHandle(r.Context(), names.RegisterRequest{
		Handle: req.Handle,
		Owner:  caller.Account,
		Caller: caller.Account,
		Class:  class,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handleViewOf(rec, s.core.Names.FQDN(rec.Handle)))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	rec, err := s.core.Names.LookupName(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handleViewOf(rec, s.core.Names.FQDN(rec.Handle)))
}

func (s *Server) handleReverseLookup(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	handle, err := s.core.Names.ReverseLookup(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": addr.Hex(), "handle": handle, "name": s.core.Names.FQDN(handle)})
}

type setRateRequest struct {
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	num, ok := new(big.Int).SetString(strings.TrimSpace(req.Numerator), 10)
	den, ok2 := new(big.Int).SetString(strings.TrimSpace(req.Denominator), 10)
	if !ok || !ok2 {
		writeError(w, coreerrors.New("rates.set", coreerrors.ErrInvalidRate, "numerator and denominator must be integers"))
		return
	}
	caller := mustCaller(r)
	rate, err := s.core.Rates.SetRate(r.Context(), num, den, caller.Subject, caller.Has(ScopeRateUpdater))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateViewOf(rate))
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.core.Rates.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateViewOf(rate))
}

type authorizeRequest struct {
	EstimatedCost uint64 `json:"estimatedCost"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	decision, err := s.core.Sponsorship.Authorize(r.Context(), mustCaller(r).Account, req.EstimatedCost, s.clock())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionViewOf(decision))
}

type fundPoolRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFundPool(w http.ResponseWriter, r *http.Request) {
	var req fundPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.core.Sponsorship.FundPool(r.Context(), req.Amount, mustCaller(r).Has(ScopeOperator))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"poolBalance": balance})
}

func (s *Server) handlePoolBalance(w http.ResponseWriter, r *http.Request) {
	policy := s.core.Sponsorship.Policy()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":     policy.Enabled,
		"poolBalance": s.core.Sponsorship.PoolBalance(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	caller := mustCaller(r)
	if addr != caller.Account && !caller.Has(ScopeOperator) {
		writeError(w, coreerrors.New("sponsorship.usage", coreerrors.ErrUnauthorized, "usage belongs to another account"))
		return
	}
	writeJSON(w, http.StatusOK, usageViewOf(s.core.Sponsorship.Usage(addr, s.clock())))
}

type faucetResponse struct {
	Granted          bool   `json:"granted"`
	Amount           string `json:"amount,omitempty"`
	SecondsRemaining int64  `json:"secondsRemaining,omitempty"`
}

func (s *Server) handleFaucetClaim(w http.ResponseWriter, r *http.Request) {
	if s.core.Faucet == nil {
		writeJSONError(w, http.StatusNotFound, "faucet disabled", "", nil)
		return
	}
	grant, err := s.core.Faucet.Claim(r.Context(), mustCaller(r).Account, s.clock())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := faucetResponse{Granted: grant.Granted, SecondsRemaining: grant.SecondsRemaining}
	status := http.StatusOK
	if grant.Granted {
		resp.Amount = grant.Amount.String()
	} else {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.FormatInt(grant.SecondsRemaining, 10))
	}
	writeJSON(w, status, resp)
}
