package engine

import "context"

// Store is the persistence contract used by Service. Implementations must make
// CreditBalance and DebitBalance single conditional statements evaluated by the
// storage layer; the engine never computes a new balance from a previously read
// one. (gormstore implements this.)
type Store interface {
	// WithTx executes fn within a transaction; fn's store sees uncommitted writes.
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	// GetAccountByUserID fails with ErrAccountNotFound; it never creates. The
	// reconciler uses it so a webhook with a bad user id cannot mint an account.
	GetAccountByUserID(ctx context.Context, userID UserID) (Account, error)
	GetAccountByID(ctx context.Context, accountID AccountID) (Account, error)
	// GetAccountForUpdate loads the account and locks its row for the duration of
	// the surrounding transaction, serializing check-then-write sequences such as
	// the invitation quota count.
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	// CreditBalance atomically adds amount and returns the resulting balance.
	CreditBalance(ctx context.Context, accountID AccountID, amount Duration) (Minutes, error)
	// DebitBalance atomically subtracts amount, failing with ErrInsufficientBalance
	// (no partial mutation) when the stored balance is lower than amount.
	DebitBalance(ctx context.Context, accountID AccountID, amount Duration) (Minutes, error)
	SetSubscription(ctx context.Context, accountID AccountID, planID PlanID, subscriptionID string, status SubscriptionStatus) error
	SetSubscriptionStatus(ctx context.Context, accountID AccountID, status SubscriptionStatus) error

	HasAppliedReference(ctx context.Context, referenceID ReferenceID) (bool, error)
	// InsertAppliedReference fails with ErrReferenceApplied when the reference id
	// already exists; callers treat that as "already applied", not a hard error.
	InsertAppliedReference(ctx context.Context, reference AppliedReference) error
	UpsertInvoiceRecord(ctx context.Context, record InvoiceRecord) error
	ListInvoiceRecords(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]InvoiceRecord, error)

	CreateInvitation(ctx context.Context, invitation Invitation) error
	// GetInvitationForUpdate loads an invitation and locks its row for the duration
	// of the surrounding transaction.
	GetInvitationForUpdate(ctx context.Context, invitationID InvitationID) (Invitation, error)
	// UpdateInvitationStatus performs a compare-and-swap on the status column and
	// fails with ErrInvitationNotActive when no row matched the expected state.
	UpdateInvitationStatus(ctx context.Context, invitationID InvitationID, from InvitationStatus, to InvitationStatus) error
	// FinalizeInvitation moves an active invitation to used, stamping the final
	// service, duration, and use time in the same conditional statement.
	FinalizeInvitation(ctx context.Context, invitationID InvitationID, finalServiceID ServiceID, finalDuration Duration, usedUnixUTC int64) error
	// CountInvitationsSince counts non-cancelled invitations the host created at or
	// after sinceUnixUTC.
	CountInvitationsSince(ctx context.Context, hostAccountID AccountID, sinceUnixUTC int64) (int, error)
	ListInvitations(ctx context.Context, hostAccountID AccountID) ([]Invitation, error)

	CreateVisit(ctx context.Context, visit Visit) error

	ListReferredAccounts(ctx context.Context, referralCode string) ([]Account, error)
	ListReferralRows(ctx context.Context, referralCode string) ([]ReferralRow, error)
	SumRewardMinutes(ctx context.Context, accountID AccountID) (Minutes, error)
}

// PlanCatalog resolves plan configuration. Read-only; owned by the catalog system.
type PlanCatalog interface {
	GetPlan(ctx context.Context, planID PlanID) (Plan, error)
}

// ServiceCatalog resolves bookable services. Read-only; owned by the catalog system.
type ServiceCatalog interface {
	GetService(ctx context.Context, serviceID ServiceID) (ServiceInfo, error)
}

// PlanChangeResult is what the billing gateway reports after swapping the priced
// item on an existing subscription with immediate prorated invoicing.
type PlanChangeResult struct {
	InvoiceID           string
	AmountDueCents      int64
	Paid                bool
	PaymentClientSecret string
}

// BillingGateway is the outbound billing-system surface the reconciler drives.
type BillingGateway interface {
	// ChangeSubscriptionPlan replaces the subscription's priced item (never creates
	// a second subscription), requests immediate prorated invoicing, and carries
	// plan/user metadata forward onto the resulting invoice.
	ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, priceID string, metadata map[string]string) (PlanChangeResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Notifier delivers post-commit side effects (receipts, marketing events).
// Failures are logged and swallowed; they never invalidate a committed mutation.
type Notifier interface {
	PaymentReceipt(ctx context.Context, account Account, record InvoiceRecord)
	RedemptionSettled(ctx context.Context, account Account, visit Visit)
}
