package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paybridge/internal/checkout"
	"paybridge/internal/domain/storage"
	"paybridge/internal/domain/transactions"
	"paybridge/internal/payments"
	"paybridge/internal/ratelimiter"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubGateway struct {
	launch    payments.LaunchDescriptor
	launchErr error
	outcome   payments.Outcome
	verifyErr error
}

func (g *stubGateway) BuildLaunch(ctx context.Context, txn *transactions.Transaction) (payments.LaunchDescriptor, error) {
	if g.launchErr != nil {
		return payments.LaunchDescriptor{}, g.launchErr
	}
	desc := g.launch
	desc.Fields = map[string]string{}
	for k, v := range g.launch.Fields {
		desc.Fields[k] = v
	}
	return desc, nil
}

func (g *stubGateway) Verify(ctx context.Context, txn *transactions.Transaction, proof payments.Proof) (payments.Outcome, error) {
	return g.outcome, g.verifyErr
}

func newTestApplication(t *testing.T, esewa, khalti *stubGateway) *application {
	t.Helper()

	manager := payments.NewManager()
	if esewa != nil {
		manager.Register(transactions.GatewayEsewa, esewa)
	}
	if khalti != nil {
		manager.Register(transactions.GatewayKhalti, khalti)
	}

	logger := zap.NewNop().Sugar()
	store := storage.NewMemoryContainer()

	return &application{
		config: config{
			env:         "test",
			frontendURL: "http://shop.test",
			auth:        authConfig{basic: basicConfig{user: "admin", pass: "secret"}},
		},
		store:    store,
		logger:   logger,
		checkout: checkout.New(store.Transactions, store.Logs, manager, nil, logger),
		txnIDs:   payments.NewIDGenerator("test-secret"),
	}
}

func esewaStub() *stubGateway {
	return &stubGateway{
		launch: payments.LaunchDescriptor{
			URL:    "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
			Method: http.MethodPost,
			Fields: map[string]string{
				"total_amount":     "500",
				"transaction_uuid": "txn_1",
				"success_url":      "http://shop.test/success",
				"failure_url":      "http://shop.test/failure",
				"signature":        "sig",
			},
		},
	}
}

func do(t *testing.T, app *application, method, path, body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if setup != nil {
		setup(req)
	}
	rr := httptest.NewRecorder()
	app.mount().ServeHTTP(rr, req)
	return rr
}

func initiateBody(id, gateway string) string {
	return `{"customerName":"Hari Shrestha","customerEmail":"hari@example.com","customerPhone":"9841234567",` +
		`"productName":"Futsal booking","amount":500,"paymentGateway":"` + gateway + `","productId":"` + id + `"}`
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rr.Body.String())
	}
}

func TestInitiatePaymentHandler(t *testing.T) {
	app := newTestApplication(t, esewaStub(), nil)

	rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "WalletA"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp initiatePaymentResponse
	decodeBody(t, rr, &resp)
	if resp.Method != http.MethodPost || resp.Fields["signature"] != "sig" {
		t.Fatalf("unexpected response %+v", resp)
	}

	txn, _ := app.store.Transactions.GetByID(context.Background(), "txn_1")
	if txn == nil || txn.Status != transactions.StatusPending || !txn.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected a PENDING 500 record, got %+v", txn)
	}
}

func TestInitiatePaymentHandler_Errors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		app := newTestApplication(t, esewaStub(), nil)
		body := strings.Replace(initiateBody("txn_1", "esewa"), "9841234567", "12345", 1)
		rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		app := newTestApplication(t, esewaStub(), nil)
		body := strings.Replace(initiateBody("txn_1", "esewa"), `"amount":500`, `"amount":500,"status":"COMPLETED"`, 1)
		rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		app := newTestApplication(t, esewaStub(), nil)
		body := strings.Replace(initiateBody("txn_1", "esewa"), `"amount":500`, `"amount":0`, 1)
		rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		app := newTestApplication(t, esewaStub(), nil)
		do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)
		rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
	})

	t.Run("gateway down", func(t *testing.T) {
		app := newTestApplication(t, nil, &stubGateway{launchErr: payments.ErrGatewayUnavailable})
		rr := do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "khalti"), nil)
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rr.Code)
		}
		txn, _ := app.store.Transactions.GetByID(context.Background(), "txn_1")
		if txn == nil || txn.Status != transactions.StatusPending {
			t.Fatalf("expected the record to stay PENDING, got %+v", txn)
		}
	})
}

func TestPaymentStatusHandler(t *testing.T) {
	t.Run("unknown transaction", func(t *testing.T) {
		app := newTestApplication(t, esewaStub(), nil)
		rr := do(t, app, http.MethodPost, "/api/v1/payment/payment-status", `{"product_id":"missing"}`, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("completed", func(t *testing.T) {
		gw := esewaStub()
		gw.outcome = payments.Outcome{Status: transactions.StatusCompleted, Amount: decimal.NewFromInt(500), ReferenceID: "0001TS9"}
		app := newTestApplication(t, gw, nil)
		do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

		rr := do(t, app, http.MethodPost, "/api/v1/payment/payment-status", `{"product_id":"txn_1","data":"token"}`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp paymentStatusResponse
		decodeBody(t, rr, &resp)
		if resp.Status != "COMPLETED" || resp.Amount != "500.00" || resp.ReferenceID != "0001TS9" {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("gateway pending", func(t *testing.T) {
		gw := esewaStub()
		gw.outcome = payments.Outcome{Status: transactions.StatusPending}
		app := newTestApplication(t, gw, nil)
		do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

		rr := do(t, app, http.MethodPost, "/api/v1/payment/payment-status", `{"product_id":"txn_1"}`, nil)
		var resp paymentStatusResponse
		decodeBody(t, rr, &resp)
		if rr.Code != http.StatusOK || resp.Status != "PENDING" || resp.Amount != "" {
			t.Fatalf("expected 200 PENDING, got %d %+v", rr.Code, resp)
		}
	})

	t.Run("invalid proof", func(t *testing.T) {
		gw := esewaStub()
		gw.verifyErr = payments.ErrInvalidProof
		app := newTestApplication(t, gw, nil)
		do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

		rr := do(t, app, http.MethodPost, "/api/v1/payment/payment-status", `{"product_id":"txn_1","data":"forged"}`, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		var resp paymentStatusResponse
		decodeBody(t, rr, &resp)
		if resp.Status != "FAILED" {
			t.Fatalf("expected FAILED, got %+v", resp)
		}
		txn, _ := app.store.Transactions.GetByID(context.Background(), "txn_1")
		if txn.Status != transactions.StatusPending {
			t.Fatalf("expected the record to stay PENDING, got %s", txn.Status)
		}
	})

	t.Run("gateway unavailable", func(t *testing.T) {
		gw := esewaStub()
		gw.verifyErr = payments.ErrGatewayUnavailable
		app := newTestApplication(t, gw, nil)
		do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

		rr := do(t, app, http.MethodPost, "/api/v1/payment/payment-status", `{"product_id":"txn_1"}`, nil)
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rr.Code)
		}
	})
}

func TestTransactionIDHandler(t *testing.T) {
	app := newTestApplication(t, esewaStub(), nil)
	rr := do(t, app, http.MethodGet, "/api/v1/payment/transaction-id", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if id := resp["transactionId"]; !strings.HasPrefix(id, "PAY-") || !checkout.ValidTransactionID(id) {
		t.Fatalf("unexpected transaction id %q", id)
	}
}

func TestAdminTransactionsRequireBasicAuth(t *testing.T) {
	app := newTestApplication(t, esewaStub(), nil)
	do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

	rr := do(t, app, http.MethodGet, "/api/v1/admin/transactions", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = do(t, app, http.MethodGet, "/api/v1/admin/transactions?status=pending", "", func(r *http.Request) {
		r.SetBasicAuth("admin", "secret")
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var list struct {
		Data struct {
			Transactions []transactions.Transaction `json:"transactions"`
		} `json:"data"`
	}
	decodeBody(t, rr, &list)
	if len(list.Data.Transactions) != 1 || list.Data.Transactions[0].ID != "txn_1" {
		t.Fatalf("unexpected list %+v", list.Data.Transactions)
	}

	rr = do(t, app, http.MethodGet, "/api/v1/admin/transactions/txn_1", "", func(r *http.Request) {
		r.SetBasicAuth("admin", "secret")
	})
	var detail struct {
		Data struct {
			Logs []transactions.Log `json:"logs"`
		} `json:"data"`
	}
	decodeBody(t, rr, &detail)
	if rr.Code != http.StatusOK || len(detail.Data.Logs) == 0 {
		t.Fatalf("expected the transaction with its logs, got %d %+v", rr.Code, detail)
	}
}

func TestKhaltiReturnHandlerRedirects(t *testing.T) {
	khalti := &stubGateway{
		launch:  payments.LaunchDescriptor{URL: "https://test-pay.khalti.com/?pidx=p1", Method: http.MethodGet, ProviderRef: "p1"},
		outcome: payments.Outcome{Status: transactions.StatusCompleted, Amount: decimal.NewFromInt(500), ReferenceID: "KH-1"},
	}
	app := newTestApplication(t, nil, khalti)
	do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "khalti"), nil)

	rr := do(t, app, http.MethodGet, "/api/v1/payment/khalti/return?pidx=p1&purchase_order_id=txn_1&status=Completed", "", nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, "http://shop.test/payment/return?") || !strings.Contains(loc, "result=success") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	rr = do(t, app, http.MethodGet, "/api/v1/payment/khalti/return?purchase_order_id=txn_1", "", nil)
	if loc := rr.Header().Get("Location"); !strings.Contains(loc, "result=failed") {
		t.Fatalf("expected a failed redirect without pidx, got %q", loc)
	}
}

func TestEsewaReturnHandlerFailureURL(t *testing.T) {
	stub := esewaStub()
	app := newTestApplication(t, stub, nil)
	do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

	// failure_url returns carry only the transaction id, never a token
	stub.outcome = payments.Outcome{Status: transactions.StatusFailed, Amount: decimal.NewFromInt(500)}
	rr := do(t, app, http.MethodGet, "/api/v1/payment/esewa/return?transaction_id=txn_1", "", nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	loc := rr.Header().Get("Location")
	if !strings.Contains(loc, "result=failed") || !strings.Contains(loc, "reason=gateway_terminal") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	txn, err := app.store.Transactions.GetByID(context.Background(), "txn_1")
	if err != nil || txn == nil || txn.Status != transactions.StatusFailed {
		t.Fatalf("expected txn_1 FAILED, got txn=%+v err=%v", txn, err)
	}

	rr = do(t, app, http.MethodGet, "/api/v1/payment/esewa/return", "", nil)
	if loc := rr.Header().Get("Location"); !strings.Contains(loc, "reason=missing_data") {
		t.Fatalf("expected missing_data redirect, got %q", loc)
	}
}

func TestEsewaStartHandlerRendersForm(t *testing.T) {
	app := newTestApplication(t, esewaStub(), nil)
	do(t, app, http.MethodPost, "/api/v1/payment/initiate-payment", initiateBody("txn_1", "esewa"), nil)

	rr := do(t, app, http.MethodGet, "/api/v1/payment/esewa/start?transaction_id=txn_1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `action="https://rc-epay.esewa.com.np/api/epay/main/v2/form"`) {
		t.Fatalf("form action missing: %s", body)
	}
	if !strings.Contains(body, "transaction_id=txn_1") {
		t.Fatalf("success_url should carry the transaction id: %s", body)
	}

	rr = do(t, app, http.MethodGet, "/api/v1/payment/esewa/start?transaction_id=unknown", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	app := newTestApplication(t, esewaStub(), nil)
	app.config.rateLimiter = rateLimiterConfig{requestsPerTimeFrame: 1, timeFrame: time.Minute, enabled: true}
	app.rateLimiter = newTestLimiter(t, 1)

	mux := app.mount()
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payment/transaction-id", nil))
		if rr.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rr.Code)
		}
	}
}

func newTestLimiter(t *testing.T, limit int) *ratelimiter.FixedWindowRateLimiter {
	t.Helper()
	rl := ratelimiter.NewFixedWindowLimiter(limit, time.Minute)
	t.Cleanup(rl.Stop)
	return rl
}
