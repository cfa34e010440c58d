package engine

import (
	"context"
	"errors"
	"fmt"
)

// ReconcileSignal turns a payment-success signal into an entitlement grant and
// hands it to Apply. callerAccountID is zero for the authoritative webhook path;
// when set (client-confirmed payment), the signal's user must resolve to the same
// account or the signal is rejected, never silently corrected. Accounts are
// created at sign-in only; a signal whose user id resolves to nothing is an
// upstream inconsistency, not a reason to mint one.
//
// Dedup between the two racing paths is delegated entirely to Apply; the
// reconciler holds no idempotency state of its own.
func (service *Service) ReconcileSignal(ctx context.Context, callerAccountID AccountID, signal PaymentSignal) (ApplyOutcome, error) {
	account, err := service.store.GetAccountByUserID(ctx, signal.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ApplyOutcome{}, fmt.Errorf("%w: signal user %s has no account", ErrUpstreamInconsistency, signal.UserID.String())
		}
		return ApplyOutcome{}, err
	}
	if !callerAccountID.IsZero() && callerAccountID != account.AccountID {
		return ApplyOutcome{}, fmt.Errorf("%w: signal user %s does not match caller account %s",
			ErrUpstreamInconsistency, signal.UserID.String(), callerAccountID.String())
	}
	grant, meta, err := service.grantForSignal(ctx, signal)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:   operationReconcile,
			AccountID:   account.AccountID,
			ReferenceID: signal.ReferenceID,
			Error:       err,
		})
		return ApplyOutcome{}, err
	}
	return service.Apply(ctx, signal.ReferenceID, account.AccountID, grant, meta)
}

func (service *Service) grantForSignal(ctx context.Context, signal PaymentSignal) (EntitlementGrant, InvoiceMetadata, error) {
	meta := InvoiceMetadata{
		Description: signal.Description,
		AmountCents: signal.AmountCents,
		Currency:    signal.Currency,
	}
	switch signal.Kind {
	case SignalSubscriptionInvoice:
		if signal.PlanID.IsZero() {
			return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: subscription invoice without plan metadata", ErrUpstreamInconsistency)
		}
		plan, err := service.plans.GetPlan(ctx, signal.PlanID)
		if err != nil {
			return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: plan %s: %v", ErrUpstreamInconsistency, signal.PlanID.String(), err)
		}
		if meta.Description == "" {
			meta.Description = plan.Title
		}
		// The first invoice of a new subscription and a plan-change proration
		// invoice assign the plan; renewal invoices re-credit minutes without
		// touching the current plan.
		assignPlan := signal.BillingReason == BillingReasonSubscriptionCreate || signal.BillingReason == BillingReasonSubscriptionUpdate
		return EntitlementGrant{
			Kind:           GrantSubscriptionPlan,
			PlanID:         plan.PlanID,
			SubscriptionID: signal.SubscriptionID,
			MinutesToAdd:   plan.Minutes,
			AssignPlan:     assignPlan,
			Description:    plan.Title,
		}, meta, nil
	case SignalOneTimeCharge:
		if signal.PackMinutes > 0 {
			minutes, err := NewMinutes(signal.PackMinutes)
			if err != nil {
				return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: pack minutes: %v", ErrUpstreamInconsistency, err)
			}
			if meta.Description == "" {
				meta.Description = signal.PackName
			}
			return EntitlementGrant{
				Kind:         GrantMinutePack,
				MinutesToAdd: minutes,
				Description:  signal.PackName,
			}, meta, nil
		}
		if !signal.AppointmentServiceID.IsZero() {
			serviceInfo, err := service.services.GetService(ctx, signal.AppointmentServiceID)
			if err != nil {
				return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: service %s: %v", ErrUpstreamInconsistency, signal.AppointmentServiceID.String(), err)
			}
			if meta.Description == "" {
				meta.Description = serviceInfo.Name
			}
			// Appointments consume money, not minutes; the invoice record is the
			// only durable effect.
			return EntitlementGrant{
				Kind:        GrantAppointmentCharge,
				Description: serviceInfo.Name,
			}, meta, nil
		}
		return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: one-time charge carries neither pack nor appointment metadata", ErrUpstreamInconsistency)
	}
	return EntitlementGrant{}, InvoiceMetadata{}, fmt.Errorf("%w: unknown signal kind %q", ErrInvalidSignal, signal.Kind)
}

// ChangePlan replaces the priced item on the account's existing subscription with
// immediate prorated invoicing. When the proration credit fully covers the charge
// the entitlement is applied immediately, keyed on the proration invoice id, and
// the outcome reports CompletedWithoutPayment; otherwise the caller must complete
// payment and the webhook finishes reconciliation.
func (service *Service) ChangePlan(ctx context.Context, accountID AccountID, newPlanID PlanID) (PlanChangeOutcome, error) {
	if service.gateway == nil {
		return PlanChangeOutcome{}, fmt.Errorf("%w: billing gateway is not configured", ErrInvalidServiceConfig)
	}
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return PlanChangeOutcome{}, err
	}
	if account.SubscriptionID == "" || account.SubscriptionStatus != SubscriptionStatusActive {
		return PlanChangeOutcome{}, fmt.Errorf("%w: plan change requires an active subscription", ErrPlanNotEligible)
	}
	newPlan, err := service.plans.GetPlan(ctx, newPlanID)
	if err != nil {
		return PlanChangeOutcome{}, fmt.Errorf("%w: %s", ErrPlanNotFound, newPlanID.String())
	}
	result, err := service.gateway.ChangeSubscriptionPlan(ctx, account.SubscriptionID, newPlan.BillingPriceID, map[string]string{
		"plan_id": newPlan.PlanID.String(),
		"user_id": account.UserID.String(),
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationChangePlan,
		AccountID: accountID,
		Error:     err,
	})
	if err != nil {
		return PlanChangeOutcome{}, err
	}
	outcome := PlanChangeOutcome{
		InvoiceID:           result.InvoiceID,
		AmountDueCents:      result.AmountDueCents,
		PaymentClientSecret: result.PaymentClientSecret,
	}
	if result.Paid && result.AmountDueCents == 0 {
		referenceID, err := NewReferenceID(result.InvoiceID)
		if err != nil {
			return PlanChangeOutcome{}, err
		}
		applyOutcome, err := service.Apply(ctx, referenceID, accountID, EntitlementGrant{
			Kind:           GrantSubscriptionPlan,
			PlanID:         newPlan.PlanID,
			SubscriptionID: account.SubscriptionID,
			MinutesToAdd:   newPlan.Minutes,
			AssignPlan:     true,
			Description:    newPlan.Title,
		}, InvoiceMetadata{Description: newPlan.Title})
		if err != nil {
			return PlanChangeOutcome{}, err
		}
		outcome.CompletedWithoutPayment = true
		outcome.NewBalance = applyOutcome.NewBalance
	}
	return outcome, nil
}

// CancelSubscription cancels at the billing system and marks the account
// canceled. Minutes already credited are not clawed back.
func (service *Service) CancelSubscription(ctx context.Context, accountID AccountID) error {
	if service.gateway == nil {
		return fmt.Errorf("%w: billing gateway is not configured", ErrInvalidServiceConfig)
	}
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.SubscriptionID == "" {
		return fmt.Errorf("%w: no subscription to cancel", ErrPlanNotEligible)
	}
	if err := service.gateway.CancelSubscription(ctx, account.SubscriptionID); err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationCancelSub, AccountID: accountID, Error: err})
		return err
	}
	operationError := service.store.SetSubscriptionStatus(ctx, accountID, SubscriptionStatusCanceled)
	service.logOperation(ctx, OperationLog{Operation: operationCancelSub, AccountID: accountID, Error: operationError})
	return operationError
}
