package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Minutes is an integer amount of spendable service time.
type Minutes int64

// Int64 returns the raw minute count.
func (minutes Minutes) Int64() int64 {
	return int64(minutes)
}

// NewMinutes validates a non-negative minute amount.
func NewMinutes(raw int64) (Minutes, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidMinutes)
	}
	return Minutes(raw), nil
}

// Duration is a strictly positive minute amount used for debits, credits, and reservations.
type Duration struct {
	value int64
}

// NewDuration validates a duration and ensures it is strictly positive.
func NewDuration(raw int64) (Duration, error) {
	if raw <= 0 {
		return Duration{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidDuration)
	}
	return Duration{value: raw}, nil
}

// Int64 returns the raw minute count.
func (duration Duration) Int64() int64 {
	return duration.value
}

// Minutes converts the duration to a balance amount.
func (duration Duration) Minutes() Minutes {
	return Minutes(duration.value)
}

// AccountID identifies a ledger account.
type AccountID struct {
	value string
}

// UserID identifies the external identity an account belongs to.
type UserID struct {
	value string
}

// ReferenceID is an external payment reference: a subscription invoice id or a
// payment-intent id. It is the idempotency key for crediting.
type ReferenceID struct {
	value string
}

// InvitationID identifies a guest invitation.
type InvitationID struct {
	value string
}

// PlanID identifies a subscription plan in the catalog.
type PlanID struct {
	value string
}

// ServiceID identifies a bookable service in the catalog.
type ServiceID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewReferenceID validates and normalizes a payment reference id.
func NewReferenceID(raw string) (ReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	return ReferenceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReferenceID) String() string {
	return id.value
}

// NewInvitationID validates and normalizes an invitation id.
func NewInvitationID(raw string) (InvitationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return InvitationID{}, fmt.Errorf("%w: empty value", ErrInvalidInvitationID)
	}
	return InvitationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id InvitationID) String() string {
	return id.value
}

// NewPlanID validates and normalizes a plan id.
func NewPlanID(raw string) (PlanID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PlanID{}, fmt.Errorf("%w: empty value", ErrInvalidPlanID)
	}
	return PlanID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PlanID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id PlanID) IsZero() bool {
	return id.value == ""
}

// NewServiceID validates and normalizes a service id.
func NewServiceID(raw string) (ServiceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ServiceID{}, fmt.Errorf("%w: empty value", ErrInvalidServiceID)
	}
	return ServiceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ServiceID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ServiceID) IsZero() bool {
	return id.value == ""
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// SubscriptionStatus defines the account's billing relationship state.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// String returns the raw status value.
func (status SubscriptionStatus) String() string {
	return string(status)
}

// ParseSubscriptionStatus validates a raw subscription status.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(raw) {
	case SubscriptionStatusNone, SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return SubscriptionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: unknown subscription status %q", ErrInvalidSignal, raw)
}

// InvitationStatus defines the invitation lifecycle.
type InvitationStatus string

const (
	InvitationStatusActive    InvitationStatus = "active"
	InvitationStatusUsed      InvitationStatus = "used"
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

// String returns the raw status value.
func (status InvitationStatus) String() string {
	return string(status)
}

// ParseInvitationStatus validates a raw invitation status.
func ParseInvitationStatus(raw string) (InvitationStatus, error) {
	switch InvitationStatus(raw) {
	case InvitationStatusActive, InvitationStatusUsed, InvitationStatusCancelled:
		return InvitationStatus(raw), nil
	}
	return "", fmt.Errorf("%w: unknown invitation status %q", ErrInvitationNotActive, raw)
}

// GrantKind enumerates what a payment buys.
type GrantKind string

const (
	GrantSubscriptionPlan  GrantKind = "subscription_plan"
	GrantMinutePack        GrantKind = "minute_pack"
	GrantAppointmentCharge GrantKind = "appointment_charge"
	GrantReferralReward    GrantKind = "referral_reward"
)

// String returns the raw kind value.
func (kind GrantKind) String() string {
	return string(kind)
}

// EntitlementGrant describes the minutes (and optionally plan assignment) a payment is worth.
type EntitlementGrant struct {
	Kind           GrantKind
	PlanID         PlanID
	SubscriptionID string
	MinutesToAdd   Minutes
	AssignPlan     bool
	Description    string
}

// Validate checks internal consistency of a grant.
func (grant EntitlementGrant) Validate() error {
	switch grant.Kind {
	case GrantSubscriptionPlan:
		if grant.PlanID.IsZero() {
			return fmt.Errorf("%w: subscription grant requires plan id", ErrInvalidGrant)
		}
		if grant.MinutesToAdd <= 0 {
			return fmt.Errorf("%w: subscription grant requires positive minutes", ErrInvalidGrant)
		}
	case GrantMinutePack, GrantReferralReward:
		if grant.MinutesToAdd <= 0 {
			return fmt.Errorf("%w: %s requires positive minutes", ErrInvalidGrant, grant.Kind)
		}
		if grant.AssignPlan {
			return fmt.Errorf("%w: %s must not assign a plan", ErrInvalidGrant, grant.Kind)
		}
	case GrantAppointmentCharge:
		if grant.MinutesToAdd != 0 {
			return fmt.Errorf("%w: appointment charge must not add minutes", ErrInvalidGrant)
		}
		if grant.AssignPlan {
			return fmt.Errorf("%w: appointment charge must not assign a plan", ErrInvalidGrant)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGrant, grant.Kind)
	}
	return nil
}

// Account is the durable ledger record for one user. The balance is mutated only
// through the store's conditional credit/debit primitives.
type Account struct {
	AccountID          AccountID
	UserID             UserID
	MinutesBalance     Minutes
	CurrentPlanID      PlanID
	BillingCustomerID  string
	SubscriptionID     string
	SubscriptionStatus SubscriptionStatus
	ReferralCode       string
	ReferredBy         string
	CreatedUnixUTC     int64
}

// AppliedReference is the idempotency record: at most one balance mutation may
// ever be recorded for a given payment reference.
type AppliedReference struct {
	ReferenceID    ReferenceID
	AccountID      AccountID
	MinutesApplied Minutes
	AppliedUnixUTC int64
}

// InvoiceRecord is the user-facing receipt row, keyed by the external payment
// reference so a concurrent duplicate write is absorbed by upsert.
type InvoiceRecord struct {
	ReferenceID    ReferenceID
	AccountID      AccountID
	Kind           GrantKind
	Description    string
	AmountCents    int64
	Currency       string
	MinutesGranted Minutes
	Status         string
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Invitation is a guest's reserved, pre-paid (in host minutes) service slot.
type Invitation struct {
	InvitationID     InvitationID
	HostAccountID    AccountID
	Status           InvitationStatus
	ServiceID        ServiceID
	ServiceName      string
	ReservedDuration Duration
	FinalServiceID   ServiceID
	FinalDuration    Duration
	CreatedUnixUTC   int64
	UsedUnixUTC      int64
}

// Visit is the completed service record written at redemption.
type Visit struct {
	VisitID         string
	HostAccountID   AccountID
	InvitationID    InvitationID
	ServiceID       ServiceID
	ServiceName     string
	DurationMinutes Duration
	GuestVisit      bool
	PaymentMethod   string
	OccurredUnixUTC int64
}

// QuotaPeriod is the window over which a plan's guest-pass allowance resets.
type QuotaPeriod string

const (
	QuotaPeriodWeek  QuotaPeriod = "week"
	QuotaPeriodMonth QuotaPeriod = "month"
)

// String returns the raw period value.
func (period QuotaPeriod) String() string {
	return string(period)
}

// GuestPassAllowance is a plan's invitation quota.
type GuestPassAllowance struct {
	Quantity int
	Period   QuotaPeriod
}

// Plan is the catalog view of a subscription plan.
type Plan struct {
	PlanID         PlanID
	Title          string
	Minutes        Minutes
	BillingPriceID string
	GuestPasses    GuestPassAllowance
}

// ServiceInfo is the catalog view of a bookable service.
type ServiceInfo struct {
	ServiceID ServiceID
	Name      string
}

// SignalKind distinguishes subscription-shaped payments from flat one-time charges.
type SignalKind string

const (
	SignalSubscriptionInvoice SignalKind = "subscription_invoice"
	SignalOneTimeCharge       SignalKind = "one_time_charge"
)

// BillingReason indicates why a subscription invoice was generated.
type BillingReason string

const (
	BillingReasonSubscriptionCreate BillingReason = "subscription_create"
	BillingReasonSubscriptionCycle  BillingReason = "subscription_cycle"
	BillingReasonSubscriptionUpdate BillingReason = "subscription_update"
)

// PaymentSignal is a payment-success event after the intake layer has extracted
// the reference, the shape, and the attached metadata. The engine never parses
// gateway payloads itself.
type PaymentSignal struct {
	ReferenceID          ReferenceID
	Kind                 SignalKind
	UserID               UserID
	SubscriptionID       string
	BillingReason        BillingReason
	PlanID               PlanID
	PackName             string
	PackMinutes          int64
	AppointmentServiceID ServiceID
	AppointmentMinutes   int64
	AmountCents          int64
	Currency             string
	Description          string
}

// InvoiceMetadata carries the user-facing receipt fields attached to a payment.
type InvoiceMetadata struct {
	Description string
	AmountCents int64
	Currency    string
	Extra       MetadataJSON
}

// ApplyOutcome reports what an Apply call did. Applied is false when the
// reference had already been converted to minutes; that is a success, not an error.
type ApplyOutcome struct {
	Applied    bool
	NewBalance Minutes
}

// PlanChangeOutcome reports the result of an upgrade/downgrade request.
type PlanChangeOutcome struct {
	CompletedWithoutPayment bool
	InvoiceID               string
	AmountDueCents          int64
	PaymentClientSecret     string
	NewBalance              Minutes
}

// ReferralRow is a flat referral-graph record used to build the nested tree.
type ReferralRow struct {
	ID         string
	ReferredBy string
	Level      int
}

// ReferralNode is one node of the nested referral tree.
type ReferralNode struct {
	ID       string
	Level    int
	Children []ReferralNode
}

// SignupBucket is one day of the trailing signup time series.
type SignupBucket struct {
	Day     string
	Signups int
}

// PartnerStats is the affiliate performance view.
type PartnerStats struct {
	ReferralCode       string
	ReferredCount      int
	ActiveSubscribers  int
	RewardMinutesTotal Minutes
	SignupSeries       []SignupBucket
	Tree               []ReferralNode
}
