package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"paybridge/internal/domain/transactions"

	"github.com/shopspring/decimal"
)

const (
	testEsewaSecret   = "8gBm/:&EnhH.1/q"
	testEsewaMerchant = "EPAYTEST"
)

func testTxn(id string, gateway transactions.Gateway, amount string) *transactions.Transaction {
	return &transactions.Transaction{
		ID:          id,
		Gateway:     gateway,
		Amount:      decimal.RequireFromString(amount),
		Customer:    transactions.Customer{Name: "Ram Thapa", Email: "ram@example.com", Phone: "9841234567"},
		ProductName: "Court booking",
		Status:      transactions.StatusPending,
	}
}

func hmacBase64(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// esewaToken builds the base64 blob eSewa appends to success_url, signed the way eSewa signs it.
func esewaToken(t *testing.T, secret string, fields map[string]string) string {
	t.Helper()
	names := "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	fields["signed_field_names"] = names

	var parts []string
	for _, name := range strings.Split(names, ",") {
		parts = append(parts, name+"="+fields[name])
	}
	fields["signature"] = hmacBase64(secret, strings.Join(parts, ","))

	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func completeToken(t *testing.T, uuid, amount string) string {
	return esewaToken(t, testEsewaSecret, map[string]string{
		"transaction_code": "000AWEO",
		"status":           "COMPLETE",
		"total_amount":     amount,
		"transaction_uuid": uuid,
		"product_code":     testEsewaMerchant,
	})
}

func newEsewaStatusServer(t *testing.T, calls *int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		q := r.URL.Query()
		if q.Get("product_code") != testEsewaMerchant || q.Get("transaction_uuid") == "" || q.Get("total_amount") == "" {
			t.Errorf("unexpected status query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEsewa(statusURL string) *EsewaAdapter {
	return NewEsewaAdapter(EsewaConfig{
		MerchantCode: testEsewaMerchant,
		SecretKey:    testEsewaSecret,
		SuccessURL:   "http://localhost:5173/success",
		FailureURL:   "http://localhost:5173/failure",
		StatusURL:    statusURL,
	})
}

func TestEsewaAdapter_BuildLaunch(t *testing.T) {
	adapter := newTestEsewa("")
	txn := testTxn("txn_1", transactions.GatewayEsewa, "500")

	desc, err := adapter.BuildLaunch(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if desc.Method != http.MethodPost {
		t.Fatalf("expected POST form hand-off, got %s", desc.Method)
	}
	if desc.URL != esewaSandboxFormURL {
		t.Fatalf("unexpected form url %s", desc.URL)
	}
	if desc.Fields["transaction_uuid"] != "txn_1" || desc.Fields["total_amount"] != "500" {
		t.Fatalf("unexpected fields: %v", desc.Fields)
	}
	for _, key := range []string{
		"amount", "tax_amount", "total_amount", "transaction_uuid", "product_code",
		"product_service_charge", "product_delivery_charge", "success_url", "failure_url",
		"signed_field_names", "signature",
	} {
		if _, ok := desc.Fields[key]; !ok {
			t.Errorf("missing form field %q", key)
		}
	}

	if got := desc.Fields["failure_url"]; got != "http://localhost:5173/failure?transaction_id=txn_1" {
		t.Fatalf("failure_url should carry the transaction id, got %s", got)
	}
	if got := desc.Fields["success_url"]; got != "http://localhost:5173/success" {
		t.Fatalf("success_url must stay untouched for the token, got %s", got)
	}

	want := hmacBase64(testEsewaSecret, "total_amount=500,transaction_uuid=txn_1,product_code=EPAYTEST")
	if desc.Fields["signature"] != want {
		t.Fatalf("signature mismatch: got %s want %s", desc.Fields["signature"], want)
	}
}

func TestEsewaAdapter_VerifyCompleted(t *testing.T) {
	var calls int32
	srv := newEsewaStatusServer(t, &calls, http.StatusOK,
		`{"product_code":"EPAYTEST","transaction_uuid":"txn_1","total_amount":500.0,"status":"COMPLETE","ref_id":"0001TS9"}`)
	adapter := newTestEsewa(srv.URL)
	txn := testTxn("txn_1", transactions.GatewayEsewa, "500")

	out, err := adapter.Verify(context.Background(), txn, Proof{Data: completeToken(t, "txn_1", "500.0")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Status != transactions.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", out.Status)
	}
	if !out.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected amount 500, got %s", out.Amount)
	}
	if out.ReferenceID != "0001TS9" {
		t.Fatalf("expected ref 0001TS9, got %s", out.ReferenceID)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 status call, got %d", atomic.LoadInt32(&calls))
	}
}

func TestEsewaAdapter_VerifyWithoutTokenUsesStatusAPI(t *testing.T) {
	var calls int32
	srv := newEsewaStatusServer(t, &calls, http.StatusOK,
		`{"product_code":"EPAYTEST","transaction_uuid":"txn_2","total_amount":"1,000.0","status":"COMPLETE","ref_id":null}`)
	adapter := newTestEsewa(srv.URL)

	out, err := adapter.Verify(context.Background(), testTxn("txn_2", transactions.GatewayEsewa, "1000"), Proof{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Status != transactions.StatusCompleted || !out.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ReferenceID != "" {
		t.Fatalf("expected empty ref, got %q", out.ReferenceID)
	}
}

func TestEsewaAdapter_VerifyStatusMapping(t *testing.T) {
	cases := map[string]transactions.Status{
		"PENDING":        transactions.StatusPending,
		"AMBIGUOUS":      transactions.StatusPending,
		"CANCELED":       transactions.StatusFailed,
		"NOT_FOUND":      transactions.StatusFailed,
		"FULL_REFUND":    transactions.StatusFailed,
		"PARTIAL_REFUND": transactions.StatusFailed,
	}
	for state, want := range cases {
		t.Run(state, func(t *testing.T) {
			var calls int32
			srv := newEsewaStatusServer(t, &calls, http.StatusOK,
				`{"product_code":"EPAYTEST","transaction_uuid":"txn_1","total_amount":500,"status":"`+state+`"}`)
			out, err := newTestEsewa(srv.URL).Verify(context.Background(), testTxn("txn_1", transactions.GatewayEsewa, "500"), Proof{})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Status != want {
				t.Fatalf("expected %s, got %s", want, out.Status)
			}
		})
	}
}

func TestEsewaAdapter_VerifyRejectsBadTokens(t *testing.T) {
	tampered := func(t *testing.T) string {
		raw, _ := base64.StdEncoding.DecodeString(completeToken(t, "txn_1", "500.0"))
		var m map[string]string
		json.Unmarshal(raw, &m)
		m["total_amount"] = "5.0"
		b, _ := json.Marshal(m)
		return base64.StdEncoding.EncodeToString(b)
	}

	cases := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{"not base64", func(t *testing.T) string { return "%%%not-base64%%%" }, ErrInvalidProof},
		{"not json", func(t *testing.T) string { return base64.StdEncoding.EncodeToString([]byte("hello")) }, ErrInvalidProof},
		{"missing signature", func(t *testing.T) string {
			return base64.StdEncoding.EncodeToString([]byte(`{"transaction_uuid":"txn_1","total_amount":"500.0","status":"COMPLETE"}`))
		}, ErrInvalidProof},
		{"tampered amount", tampered, ErrInvalidProof},
		{"wrong secret", func(t *testing.T) string {
			return esewaToken(t, "someone-else", map[string]string{
				"transaction_code": "X", "status": "COMPLETE", "total_amount": "500.0",
				"transaction_uuid": "txn_1", "product_code": testEsewaMerchant,
			})
		}, ErrInvalidProof},
		{"other transaction", func(t *testing.T) string { return completeToken(t, "txn_other", "500.0") }, ErrInvalidProof},
		{"signed amount differs", func(t *testing.T) string { return completeToken(t, "txn_1", "50.0") }, ErrAmountMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := newEsewaStatusServer(t, &calls, http.StatusOK,
				`{"transaction_uuid":"txn_1","total_amount":500,"status":"COMPLETE"}`)
			adapter := newTestEsewa(srv.URL)

			out, err := adapter.Verify(context.Background(), testTxn("txn_1", transactions.GatewayEsewa, "500"), Proof{Data: tc.token(t)})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if out.Status == transactions.StatusCompleted {
				t.Fatal("a rejected token must never verify as COMPLETED")
			}
			if n := atomic.LoadInt32(&calls); n != 0 {
				t.Fatalf("status API must not be called for a rejected token, got %d calls", n)
			}
		})
	}
}

func TestEsewaAdapter_VerifyGatewayUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		var calls int32
		srv := newEsewaStatusServer(t, &calls, http.StatusServiceUnavailable, `upstream down`)
		_, err := newTestEsewa(srv.URL).Verify(context.Background(), testTxn("txn_1", transactions.GatewayEsewa, "500"), Proof{})
		if !errors.Is(err, ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		var calls int32
		srv := newEsewaStatusServer(t, &calls, http.StatusOK, `<html>maintenance</html>`)
		_, err := newTestEsewa(srv.URL).Verify(context.Background(), testTxn("txn_1", transactions.GatewayEsewa, "500"), Proof{})
		if !errors.Is(err, ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := newTestEsewa(url).Verify(context.Background(), testTxn("txn_1", transactions.GatewayEsewa, "500"), Proof{})
		if !errors.Is(err, ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})
}

func TestEsewaTokenTransactionID(t *testing.T) {
	id, err := EsewaTokenTransactionID(completeToken(t, "txn_9", "500.0"))
	if err != nil || id != "txn_9" {
		t.Fatalf("expected txn_9, got %q err=%v", id, err)
	}
	if _, err := EsewaTokenTransactionID("%%%"); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
}
