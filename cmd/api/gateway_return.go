package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paybridge/internal/checkout"
	"paybridge/internal/domain/transactions"
	"paybridge/internal/payments"
)

var autoPostForm = template.Must(template.New("esewa").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Redirecting…</title>
</head>
<body>
  <p>Redirecting to eSewa…</p>
  <form id="f" method="POST" action="{{.Action}}">
    {{range $k, $v := .Fields}}<input type="hidden" name="{{$k}}" value="{{$v}}">
    {{end}}<noscript><button type="submit">Continue</button></noscript>
  </form>
  <script>document.getElementById('f').submit();</script>
</body>
</html>`))

func addQuery(base, key, val string) string {
	u, err := url.Parse(base)
	if err != nil {
		if strings.Contains(base, "?") {
			return base + "&" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
		}
		return base + "?" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
	}
	q := u.Query()
	q.Set(key, val)
	u.RawQuery = q.Encode()
	return u.String()
}

// redirectToFrontend sends the payer back to the shop with the settled
// outcome: success, failed or pending.
func (app *application) redirectToFrontend(w http.ResponseWriter, r *http.Request, result, transactionID, reason string) {
	q := url.Values{}
	q.Set("result", result)
	if transactionID != "" {
		q.Set("transaction_id", transactionID)
	}
	if reason != "" {
		q.Set("reason", reason)
	}

	w.Header().Set("Cache-Control", "no-store, max-age=0")
	http.Redirect(w, r, strings.TrimRight(app.config.frontendURL, "/")+"/payment/return?"+q.Encode(), http.StatusSeeOther)
}

func (app *application) redirectWithResult(w http.ResponseWriter, r *http.Request, transactionID string, res checkout.Result, err error) {
	switch {
	case errors.Is(err, payments.ErrNotFound):
		app.redirectToFrontend(w, r, "failed", transactionID, "payment_not_found")
	case errors.Is(err, payments.ErrInvalidProof), errors.Is(err, payments.ErrAmountMismatch):
		app.redirectToFrontend(w, r, "failed", transactionID, "verification_failed")
	case err != nil:
		// unavailable gateway or store error; the sweep settles it later
		app.logger.Warnw("payment return left pending", "transaction_id", transactionID, "err", err)
		app.redirectToFrontend(w, r, "pending", transactionID, "status_check_failed")
	case res.Status == transactions.StatusCompleted:
		app.redirectToFrontend(w, r, "success", transactionID, "")
	case res.Status == transactions.StatusFailed:
		app.redirectToFrontend(w, r, "failed", transactionID, "gateway_terminal")
	default:
		app.redirectToFrontend(w, r, "pending", transactionID, "")
	}
}

// GET /api/v1/payment/esewa/start?transaction_id=...
// Renders the signed form and posts it to eSewa.
func (app *application) esewaStartHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := strings.TrimSpace(r.URL.Query().Get("transaction_id"))
	if !checkout.ValidTransactionID(id) {
		app.badRequestResponse(w, r, errors.New("invalid transaction_id"))
		return
	}

	desc, err := app.checkout.Relaunch(ctx, id)
	if err != nil {
		app.paymentErrorResponse(w, r, err)
		return
	}

	// success_url is not part of the signature; tag it so the return lands on this transaction
	desc.Fields["success_url"] = addQuery(desc.Fields["success_url"], "transaction_id", id)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(http.StatusOK)
	if err := autoPostForm.Execute(w, map[string]any{"Action": desc.URL, "Fields": desc.Fields}); err != nil {
		app.logger.Errorw("render esewa form failed", "transaction_id", id, "err", err)
	}
}

// GET /api/v1/payment/esewa/return?data=<base64 json>[&transaction_id=...]
// eSewa sends the payer here; the token is checked and the status API decides.
func (app *application) esewaReturnHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	q := r.URL.Query()
	data := strings.TrimSpace(q.Get("data"))
	id := strings.TrimSpace(q.Get("transaction_id"))

	if id == "" && data != "" {
		var err error
		if id, err = payments.EsewaTokenTransactionID(data); err != nil {
			app.redirectToFrontend(w, r, "failed", "", "invalid_data")
			return
		}
	}
	if id == "" {
		app.redirectToFrontend(w, r, "failed", "", "missing_data")
		return
	}

	// failure_url carries no token; still ask eSewa rather than assume
	res, err := app.checkout.Confirm(ctx, checkout.ConfirmRequest{TransactionID: id, Data: data})
	app.redirectWithResult(w, r, id, res, err)
}

// GET /api/v1/payment/khalti/return?pidx=...&purchase_order_id=...
func (app *application) khaltiReturnHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("purchase_order_id"))
	pidx := strings.TrimSpace(q.Get("pidx"))
	if id == "" || pidx == "" {
		app.redirectToFrontend(w, r, "failed", id, "missing_pidx")
		return
	}

	res, err := app.checkout.Confirm(ctx, checkout.ConfirmRequest{TransactionID: id, Pidx: pidx})
	app.redirectWithResult(w, r, id, res, err)
}
