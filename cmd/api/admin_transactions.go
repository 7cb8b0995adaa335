package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"paybridge/internal/params"

	"github.com/go-chi/chi/v5"
)

// GET /api/v1/admin/transactions?status=&since=&page=&limit=
func (app *application) adminListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q := r.URL.Query()
	filter, err := params.ParseTransactionFilter(q)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	pg := params.ParsePagination(q)

	txns, total, err := app.store.Transactions.List(ctx, filter.Status, filter.Since, pg.Limit, pg.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	pg.ComputeMeta(total)

	if err := app.jsonResponse(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"pagination":   pg,
		"status":       filter.Status,
		"since":        filter.Since,
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// GET /api/v1/admin/transactions/{transactionID}
func (app *application) adminGetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := chi.URLParam(r, "transactionID")

	txn, err := app.store.Transactions.GetByID(ctx, id)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if txn == nil {
		app.notFoundResponse(w, r, fmt.Errorf("transaction %s not found", id))
		return
	}

	logs, err := app.store.Logs.ListLogs(ctx, id)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, map[string]any{
		"transaction": txn,
		"logs":        logs,
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}
