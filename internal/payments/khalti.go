package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paybridge/internal/domain/transactions"

	"github.com/shopspring/decimal"
)

var paisaPerRupee = decimal.NewFromInt(100)

type KhaltiConfig struct {
	SecretKey    string
	ReturnURL    string
	WebsiteURL   string
	IsProduction bool
	BaseURL      string // overrides the khalti host, e.g. for a stub server
	Timeout      time.Duration
}

type KhaltiAdapter struct {
	cfg        KhaltiConfig
	httpClient *http.Client
}

func NewKhaltiAdapter(cfg KhaltiConfig) *KhaltiAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &KhaltiAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (k *KhaltiAdapter) baseURL() string {
	if k.cfg.BaseURL != "" {
		return strings.TrimRight(k.cfg.BaseURL, "/")
	}
	if k.cfg.IsProduction {
		return "https://khalti.com"
	}
	return "https://dev.khalti.com"
}

func (k *KhaltiAdapter) initiateURL() string {
	return k.baseURL() + "/api/v2/epayment/initiate/"
}

func (k *KhaltiAdapter) lookupURL() string {
	return k.baseURL() + "/api/v2/epayment/lookup/"
}

// post sends a JSON body with the merchant key and returns the raw response.
func (k *KhaltiAdapter) post(ctx context.Context, url string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("khalti encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("khalti build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "key "+k.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: khalti request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := readGatewayBody(resp)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func (k *KhaltiAdapter) BuildLaunch(ctx context.Context, txn *transactions.Transaction) (LaunchDescriptor, error) {
	paisa := txn.Amount.Mul(paisaPerRupee)
	if !paisa.IsInteger() {
		return LaunchDescriptor{}, fmt.Errorf("%w: amount %s has sub-paisa precision", ErrInvalidRequest, txn.Amount)
	}

	payload := map[string]any{
		"return_url":          k.cfg.ReturnURL,
		"website_url":         k.cfg.WebsiteURL,
		"amount":              paisa.IntPart(),
		"purchase_order_id":   txn.ID,
		"purchase_order_name": txn.ProductName,
		"customer_info": map[string]string{
			"name":  txn.Customer.Name,
			"email": txn.Customer.Email,
			"phone": txn.Customer.Phone,
		},
	}

	status, raw, err := k.post(ctx, k.initiateURL(), payload)
	if err != nil {
		return LaunchDescriptor{}, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
	case status == http.StatusBadRequest:
		// khalti validation errors, e.g. amount below the minimum
		return LaunchDescriptor{}, fmt.Errorf("%w: khalti rejected initiate: body=%s", ErrInvalidRequest, string(raw))
	default:
		return LaunchDescriptor{}, fmt.Errorf("%w: khalti initiate http=%d body=%s", ErrGatewayUnavailable, status, string(raw))
	}

	var res struct {
		Pidx       string `json:"pidx"`
		PaymentURL string `json:"payment_url"`
		ExpiresAt  string `json:"expires_at"`
		ExpiresIn  int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return LaunchDescriptor{}, fmt.Errorf("%w: khalti initiate decode: %v body=%s", ErrGatewayUnavailable, err, string(raw))
	}
	if res.Pidx == "" || res.PaymentURL == "" {
		return LaunchDescriptor{}, fmt.Errorf("%w: khalti initiate missing pidx or payment_url: body=%s", ErrGatewayUnavailable, string(raw))
	}

	return LaunchDescriptor{
		URL:         res.PaymentURL,
		Method:      http.MethodGet,
		ProviderRef: res.Pidx,
		ExpiresAt:   res.ExpiresAt,
	}, nil
}

// Verify looks the payment up by the pidx recorded at initiation. A pidx
// brought back by the payer only has to agree with it.
func (k *KhaltiAdapter) Verify(ctx context.Context, txn *transactions.Transaction, proof Proof) (Outcome, error) {
	var pidx string
	if txn.ProviderRef != nil {
		pidx = strings.TrimSpace(*txn.ProviderRef)
	}
	if pidx == "" {
		return Outcome{}, fmt.Errorf("%w: no pidx recorded for transaction %q", ErrInvalidProof, txn.ID)
	}
	if claimed := strings.TrimSpace(proof.Pidx); claimed != "" && claimed != pidx {
		return Outcome{}, fmt.Errorf("%w: pidx %q does not belong to transaction %q", ErrInvalidProof, claimed, txn.ID)
	}

	status, raw, err := k.post(ctx, k.lookupURL(), map[string]string{"pidx": pidx})
	if err != nil {
		return Outcome{}, err
	}
	if status >= http.StatusInternalServerError {
		return Outcome{}, fmt.Errorf("%w: khalti lookup http=%d body=%s", ErrGatewayUnavailable, status, string(raw))
	}

	// Khalti answers 400 for Expired/User canceled, with the usual body.
	// So: decode anyway, and only treat an undecodable body as an error.
	var res struct {
		Pidx          string `json:"pidx"`
		TotalAmount   int64  `json:"total_amount"`
		Status        string `json:"status"` // Completed, Pending, Initiated, Expired, User canceled, Refunded, Partially refunded
		TransactionID any    `json:"transaction_id"`
		Fee           any    `json:"fee"`
		Refunded      any    `json:"refunded"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return Outcome{}, fmt.Errorf("%w: khalti lookup decode: http=%d err=%v body=%s", ErrGatewayUnavailable, status, err, string(raw))
	}

	state := strings.TrimSpace(res.Status)
	if state == "" {
		return Outcome{}, fmt.Errorf("%w: khalti lookup without status: http=%d body=%s", ErrGatewayUnavailable, status, string(raw))
	}

	out := Outcome{
		Amount:       decimal.New(res.TotalAmount, -2),
		ReferenceID:  anyString(res.TransactionID),
		GatewayState: state,
	}
	if out.ReferenceID == "" {
		out.ReferenceID = pidx
	}

	switch strings.ToLower(state) {
	case "completed":
		out.Status = transactions.StatusCompleted
	case "expired", "user canceled", "refunded", "partially refunded":
		out.Status = transactions.StatusFailed
	default:
		// pending, initiated, or anything new: hold and re-check later
		out.Status = transactions.StatusPending
	}

	return out, nil
}
