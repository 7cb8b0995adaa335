package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"paybridge/internal/checkout"
	"paybridge/internal/domain/transactions"
	"paybridge/internal/payments"

	"github.com/shopspring/decimal"
)

type initiatePaymentPayload struct {
	CustomerName   string          `json:"customerName" validate:"required,max=100"`
	CustomerEmail  string          `json:"customerEmail" validate:"required,email,max=254"`
	CustomerPhone  string          `json:"customerPhone" validate:"required,nepaliphone"`
	ProductName    string          `json:"productName" validate:"required,max=200"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentGateway string          `json:"paymentGateway" validate:"required"`
	ProductID      string          `json:"productId" validate:"required,txnid"`
}

type initiatePaymentResponse struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields,omitempty"`
	Pidx   string            `json:"pidx,omitempty"`
}

type paymentStatusPayload struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Pidx      string `json:"pidx" validate:"max=128"`
	Data      string `json:"data" validate:"max=8192"`
}

type paymentStatusResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Amount        string `json:"amount,omitempty"`
	ReferenceID   string `json:"referenceId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// POST /api/v1/payment/initiate-payment
func (app *application) initiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var payload initiatePaymentPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	desc, err := app.checkout.Initiate(ctx, checkout.InitiateRequest{
		TransactionID: payload.ProductID,
		Gateway:       payload.PaymentGateway,
		Amount:        payload.Amount,
		Customer: transactions.Customer{
			Name:  payload.CustomerName,
			Email: payload.CustomerEmail,
			Phone: payload.CustomerPhone,
		},
		ProductName: payload.ProductName,
	})
	if err != nil {
		app.paymentErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		URL:    desc.URL,
		Method: desc.Method,
		Fields: desc.Fields,
		Pidx:   desc.ProviderRef,
	})
}

// POST /api/v1/payment/payment-status
func (app *application) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var payload paymentStatusPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.checkout.Confirm(ctx, checkout.ConfirmRequest{
		TransactionID: payload.ProductID,
		Pidx:          payload.Pidx,
		Data:          payload.Data,
	})

	switch {
	case errors.Is(err, payments.ErrInvalidProof), errors.Is(err, payments.ErrAmountMismatch):
		// tampered or foreign proof: the payer is told FAILED
		app.logger.Warnw("payment status rejected", "transaction_id", payload.ProductID, "err", err)
		writeJSON(w, http.StatusBadRequest, paymentStatusResponse{
			TransactionID: payload.ProductID,
			Status:        string(transactions.StatusFailed),
			Message:       "payment could not be verified",
		})
		return
	case err != nil:
		app.paymentErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse(res))
}

// GET /api/v1/payment/transaction-id
func (app *application) transactionIDHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": app.txnIDs.Generate()})
}

func statusResponse(res checkout.Result) paymentStatusResponse {
	out := paymentStatusResponse{
		TransactionID: res.TransactionID,
		Status:        string(res.Status),
		ReferenceID:   res.ReferenceID,
	}
	if res.Status == transactions.StatusCompleted {
		out.Amount = res.Amount.StringFixed(2)
	}
	return out
}

// paymentErrorResponse maps checkout errors onto HTTP statuses.
func (app *application) paymentErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transactions.ErrConflict):
		app.conflictResponse(w, r, fmt.Errorf("a transaction with this id already exists"))
	case errors.Is(err, payments.ErrInvalidRequest):
		app.badRequestResponse(w, r, err)
	case errors.Is(err, payments.ErrNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, payments.ErrGatewayUnavailable):
		app.badGatewayResponse(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}
