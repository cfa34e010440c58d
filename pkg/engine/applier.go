package engine

import (
	"context"
	"errors"
)

// Apply converts an external payment reference into a balance credit at most
// once. Re-processing a known reference is a successful no-op reporting
// Applied=false. Both the client-side payment confirmation and the billing
// webhook funnel through this one primitive.
func (service *Service) Apply(ctx context.Context, referenceID ReferenceID, accountID AccountID, grant EntitlementGrant, meta InvoiceMetadata) (ApplyOutcome, error) {
	if err := grant.Validate(); err != nil {
		return ApplyOutcome{}, err
	}
	var outcome ApplyOutcome
	var receipt InvoiceRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// The applied_references row, not the invoice record, is the source of
		// truth for "has this payment already become minutes". If a prior attempt
		// committed the credit but a later step failed, a retry keyed on this
		// check still skips re-crediting.
		alreadyApplied, err := transactionStore.HasAppliedReference(ctx, referenceID)
		if err != nil {
			return err
		}
		if alreadyApplied {
			account, err := transactionStore.GetAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			outcome = ApplyOutcome{Applied: false, NewBalance: account.MinutesBalance}
			return nil
		}
		var newBalance Minutes
		if grant.MinutesToAdd > 0 {
			amount, err := NewDuration(grant.MinutesToAdd.Int64())
			if err != nil {
				return err
			}
			newBalance, err = transactionStore.CreditBalance(ctx, accountID, amount)
			if err != nil {
				return err
			}
		} else {
			account, err := transactionStore.GetAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			newBalance = account.MinutesBalance
		}
		if grant.AssignPlan {
			if err := transactionStore.SetSubscription(ctx, accountID, grant.PlanID, grant.SubscriptionID, SubscriptionStatusActive); err != nil {
				return err
			}
		}
		nowUnixUTC := service.nowFn().UTC().Unix()
		receipt = InvoiceRecord{
			ReferenceID:    referenceID,
			AccountID:      accountID,
			Kind:           grant.Kind,
			Description:    meta.Description,
			AmountCents:    meta.AmountCents,
			Currency:       meta.Currency,
			MinutesGranted: grant.MinutesToAdd,
			Status:         invoiceStatusPaid,
			Metadata:       meta.Extra,
			CreatedUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.UpsertInvoiceRecord(ctx, receipt); err != nil {
			return err
		}
		if err := transactionStore.InsertAppliedReference(ctx, AppliedReference{
			ReferenceID:    referenceID,
			AccountID:      accountID,
			MinutesApplied: grant.MinutesToAdd,
			AppliedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		outcome = ApplyOutcome{Applied: true, NewBalance: newBalance}
		return nil
	})
	if errors.Is(operationError, ErrReferenceApplied) {
		// Lost the check-then-insert race: a concurrent caller committed the same
		// reference first. The unique constraint made our insert fail, the
		// transaction rolled back, and the outcome is the same successful no-op as
		// a late retry.
		account, err := service.store.GetAccountByID(ctx, accountID)
		if err != nil {
			return ApplyOutcome{}, err
		}
		outcome = ApplyOutcome{Applied: false, NewBalance: account.MinutesBalance}
		operationError = nil
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationApply,
		AccountID:   accountID,
		ReferenceID: referenceID,
		Minutes:     grant.MinutesToAdd,
		Error:       operationError,
	})
	if operationError != nil {
		return ApplyOutcome{}, operationError
	}
	if outcome.Applied {
		service.notifyPaymentReceipt(ctx, accountID, receipt)
	}
	return outcome, nil
}

func (service *Service) notifyPaymentReceipt(ctx context.Context, accountID AccountID, record InvoiceRecord) {
	if service.notifier == nil {
		return
	}
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationApply,
			AccountID: accountID,
			Status:    operationStatusError,
			Error:     err,
		})
		return
	}
	service.notifier.PaymentReceipt(ctx, account, record)
}
