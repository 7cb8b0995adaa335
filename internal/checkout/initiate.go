package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"paybridge/internal/domain/transactions"
	"paybridge/internal/payments"
)

var txnIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidTransactionID reports whether id is usable as a transaction id.
func ValidTransactionID(id string) bool {
	return txnIDPattern.MatchString(id)
}

func (s *Service) validate(req InitiateRequest) (transactions.Gateway, error) {
	if !ValidTransactionID(req.TransactionID) {
		return "", fmt.Errorf("%w: transaction id must be 1-64 characters of letters, digits, '-' or '_'", payments.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be greater than zero", payments.ErrInvalidRequest)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return "", fmt.Errorf("%w: amount has more than two decimal places", payments.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Email) == "" || strings.TrimSpace(req.Customer.Phone) == "" {
		return "", fmt.Errorf("%w: customer name, email and phone are required", payments.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return "", fmt.Errorf("%w: product name is required", payments.ErrInvalidRequest)
	}

	gateway, ok := transactions.ParseGateway(req.Gateway)
	if !ok {
		return "", fmt.Errorf("%w: unknown payment gateway %q", payments.ErrInvalidRequest, req.Gateway)
	}
	if !s.gateways.Supports(gateway) {
		return "", fmt.Errorf("%w: payment gateway %q is not configured", payments.ErrInvalidRequest, gateway)
	}
	return gateway, nil
}

// Initiate records a PENDING transaction and returns what the payer needs to
// reach the gateway. The record is written before the gateway is contacted,
// and stays PENDING if the gateway call fails.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (payments.LaunchDescriptor, error) {
	gateway, err := s.validate(req)
	if err != nil {
		return payments.LaunchDescriptor{}, err
	}

	txn, err := s.txns.Create(ctx, &transactions.Transaction{
		ID:          req.TransactionID,
		Gateway:     gateway,
		Amount:      req.Amount,
		Customer:    req.Customer,
		ProductName: strings.TrimSpace(req.ProductName),
		Status:      transactions.StatusPending,
	})
	if err != nil {
		if errors.Is(err, transactions.ErrConflict) {
			return payments.LaunchDescriptor{}, fmt.Errorf("%w: %w", payments.ErrInvalidRequest, err)
		}
		return payments.LaunchDescriptor{}, fmt.Errorf("create transaction: %w", err)
	}

	desc, err := s.gateways.BuildLaunch(ctx, txn)
	if err != nil {
		s.logger.Warnw("gateway launch failed", "transaction_id", txn.ID, "gateway", gateway, "err", err)
		s.audit(ctx, txn.ID, transactions.LogError, map[string]any{
			"stage": "initiate",
			"error": err.Error(),
		})
		return payments.LaunchDescriptor{}, err
	}

	if desc.ProviderRef != "" {
		if err := s.txns.SetProviderRef(ctx, txn.ID, desc.ProviderRef); err != nil {
			return payments.LaunchDescriptor{}, fmt.Errorf("record provider ref: %w", err)
		}
	}

	s.audit(ctx, txn.ID, transactions.LogRequest, map[string]any{
		"stage":        "initiate",
		"url":          desc.URL,
		"method":       desc.Method,
		"provider_ref": desc.ProviderRef,
		"amount":       txn.Amount.String(),
	})
	s.logger.Infow("payment initiated", "transaction_id", txn.ID, "gateway", gateway, "amount", txn.Amount.String())

	return desc, nil
}
