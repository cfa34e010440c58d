package engine

import (
	"context"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store and the read-only catalogs.
type Service struct {
	store    Store
	plans    PlanCatalog
	services ServiceCatalog
	gateway  BillingGateway
	notifier Notifier
	nowFn    func() time.Time
	logger   OperationLogger
}

// NewService wires a Service.
func NewService(store Store, plans PlanCatalog, services ServiceCatalog, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if plans == nil {
		return nil, fmt.Errorf("%w: plan catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if services == nil {
		return nil, fmt.Errorf("%w: service catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, plans: plans, services: services, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the account's current spendable minutes.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (Minutes, error) {
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.MinutesBalance, nil
}

// AccountForUser resolves (creating on first sign-in) the account for an external identity.
func (service *Service) AccountForUser(ctx context.Context, userID UserID) (Account, error) {
	return service.store.GetOrCreateAccount(ctx, userID)
}

// ListInvoices returns the receipt history before a cutoff time, newest first.
func (service *Service) ListInvoices(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]InvoiceRecord, error) {
	if beforeUnixUTC == 0 {
		beforeUnixUTC = service.nowFn().UTC().Add(time.Second).Unix()
	}
	return service.store.ListInvoiceRecords(ctx, accountID, beforeUnixUTC, limit)
}

// ListInvitations returns all invitations issued by the host.
func (service *Service) ListInvitations(ctx context.Context, hostAccountID AccountID) ([]Invitation, error) {
	return service.store.ListInvitations(ctx, hostAccountID)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
