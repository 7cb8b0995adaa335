package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paybridge/internal/domain/transactions"

	"github.com/shopspring/decimal"
)

const (
	esewaSandboxFormURL   = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
	esewaSandboxStatusURL = "https://rc.esewa.com.np/api/epay/transaction/status/"

	// Order fixed by eSewa; the signature is computed over exactly these fields.
	esewaSignedFields = "total_amount,transaction_uuid,product_code"
)

type EsewaConfig struct {
	MerchantCode string
	SecretKey    string
	SuccessURL   string
	FailureURL   string
	FormURL      string // defaults to the sandbox form endpoint
	StatusURL    string // defaults to the sandbox status-check endpoint
	Timeout      time.Duration
}

type EsewaAdapter struct {
	cfg        EsewaConfig
	httpClient *http.Client
}

func NewEsewaAdapter(cfg EsewaConfig) *EsewaAdapter {
	if cfg.FormURL == "" {
		cfg.FormURL = esewaSandboxFormURL
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = esewaSandboxStatusURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &EsewaAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *EsewaAdapter) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (e *EsewaAdapter) BuildLaunch(ctx context.Context, txn *transactions.Transaction) (LaunchDescriptor, error) {
	total := txn.Amount.String()

	raw := fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s", total, txn.ID, e.cfg.MerchantCode)

	return LaunchDescriptor{
		URL:    e.cfg.FormURL,
		Method: http.MethodPost,
		Fields: map[string]string{
			"amount":                  total,
			"tax_amount":              "0",
			"total_amount":            total,
			"transaction_uuid":        txn.ID,
			"product_code":            e.cfg.MerchantCode,
			"product_service_charge":  "0",
			"product_delivery_charge": "0",
			"success_url":             e.cfg.SuccessURL,
			"failure_url":             tagFailureURL(e.cfg.FailureURL, txn.ID),
			"signed_field_names":      esewaSignedFields,
			"signature":               e.sign(raw),
		},
	}, nil
}

// eSewa returns nothing on failure_url, so the id has to ride on it.
func tagFailureURL(base, id string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base
	}
	q := u.Query()
	q.Set("transaction_id", id)
	u.RawQuery = q.Encode()
	return u.String()
}

// Verify checks the redirect token when one is supplied, then asks eSewa's
// status API, whose answer is the only one that decides the outcome.
func (e *EsewaAdapter) Verify(ctx context.Context, txn *transactions.Transaction, proof Proof) (Outcome, error) {
	if token := strings.TrimSpace(proof.Data); token != "" {
		if err := e.checkReturnToken(txn, token); err != nil {
			return Outcome{}, err
		}
	}
	return e.statusCheck(ctx, txn)
}

// checkReturnToken validates the base64 JSON blob eSewa appends to success_url:
// signature over signed_field_names, transaction_uuid and total_amount.
func (e *EsewaAdapter) checkReturnToken(txn *transactions.Transaction, token string) error {
	payload, err := decodeEsewaToken(token)
	if err != nil {
		return err
	}

	uuid := fieldString(payload, "transaction_uuid")
	signedNames := fieldString(payload, "signed_field_names")
	signature := fieldString(payload, "signature")
	if uuid == "" || signedNames == "" || signature == "" {
		return fmt.Errorf("%w: esewa token missing required field", ErrInvalidProof)
	}

	names := strings.Split(signedNames, ",")
	parts := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := payload[name]; !ok {
			return fmt.Errorf("%w: signed field %q absent from esewa token", ErrInvalidProof, name)
		}
		parts = append(parts, name+"="+fieldString(payload, name))
	}
	want := e.sign(strings.Join(parts, ","))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("%w: esewa token signature mismatch", ErrInvalidProof)
	}

	if uuid != txn.ID {
		return fmt.Errorf("%w: esewa token is for transaction %q", ErrInvalidProof, uuid)
	}

	claimed, err := parseAmount(payload["total_amount"])
	if err != nil {
		return fmt.Errorf("%w: esewa token total_amount: %v", ErrInvalidProof, err)
	}
	if !claimed.Equal(txn.Amount) {
		return fmt.Errorf("%w: esewa token total_amount %s, expected %s", ErrAmountMismatch, claimed, txn.Amount)
	}
	return nil
}

func decodeEsewaToken(token string) (map[string]any, error) {
	rawJSON, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		rawJSON, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("%w: esewa token is not base64", ErrInvalidProof)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(rawJSON))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: esewa token is not JSON", ErrInvalidProof)
	}
	return payload, nil
}

// EsewaTokenTransactionID reads transaction_uuid from a redirect token
// without verifying it. Use it only to find the transaction to confirm.
func EsewaTokenTransactionID(token string) (string, error) {
	payload, err := decodeEsewaToken(strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	id := fieldString(payload, "transaction_uuid")
	if id == "" {
		return "", fmt.Errorf("%w: esewa token missing transaction_uuid", ErrInvalidProof)
	}
	return id, nil
}

type esewaStatusResponse struct {
	ProductCode     string `json:"product_code"`
	TransactionUUID string `json:"transaction_uuid"`
	TotalAmount     any    `json:"total_amount"`
	Status          string `json:"status"` // COMPLETE, PENDING, FULL_REFUND, PARTIAL_REFUND, AMBIGUOUS, NOT_FOUND, CANCELED
	RefID           any    `json:"ref_id"`
}

func (e *EsewaAdapter) statusCheck(ctx context.Context, txn *transactions.Transaction) (Outcome, error) {
	q := url.Values{}
	q.Set("product_code", e.cfg.MerchantCode)
	q.Set("total_amount", txn.Amount.String())
	q.Set("transaction_uuid", txn.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("esewa status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: esewa status request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := readGatewayBody(resp)
	if err != nil {
		return Outcome{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("%w: esewa status http=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(raw))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var res esewaStatusResponse
	if err := dec.Decode(&res); err != nil {
		return Outcome{}, fmt.Errorf("%w: esewa status decode: %v body=%s", ErrGatewayUnavailable, err, string(raw))
	}

	state := strings.ToUpper(strings.TrimSpace(res.Status))
	if state == "" {
		return Outcome{}, fmt.Errorf("%w: esewa status missing: body=%s", ErrGatewayUnavailable, string(raw))
	}
	if res.TransactionUUID != "" && res.TransactionUUID != txn.ID {
		return Outcome{}, fmt.Errorf("%w: esewa status answered for %q", ErrInvalidProof, res.TransactionUUID)
	}

	out := Outcome{
		GatewayState: state,
		ReferenceID:  anyString(res.RefID),
	}

	switch state {
	case "COMPLETE":
		out.Status = transactions.StatusCompleted
	case "PENDING", "AMBIGUOUS":
		out.Status = transactions.StatusPending
	default:
		out.Status = transactions.StatusFailed
	}

	if res.TotalAmount != nil {
		amount, err := parseAmount(res.TotalAmount)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: esewa status total_amount: %v", ErrGatewayUnavailable, err)
		}
		out.Amount = amount
	} else if out.Status == transactions.StatusCompleted {
		return Outcome{}, fmt.Errorf("%w: esewa status COMPLETE without total_amount", ErrGatewayUnavailable)
	}

	return out, nil
}

// eSewa sends amounts as numbers or strings, sometimes with thousands separators ("1,000.0").
func parseAmount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(t), ",", ""))
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported amount type %T", v)
	}
}

func fieldString(m map[string]any, key string) string {
	return anyString(m[key])
}

func anyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
