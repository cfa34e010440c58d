package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. The minutes balance column is only
// ever mutated through conditional UPDATE statements.
type Account struct {
	AccountID          string    `gorm:"type:uuid;primaryKey"`
	UserID             string    `gorm:"not null;uniqueIndex:uniq_accounts_user"`
	MinutesBalance     int64     `gorm:"not null;default:0"`
	CurrentPlanID      string    `gorm:"not null;default:''"`
	BillingCustomerID  string    `gorm:"not null;default:''"`
	SubscriptionID     string    `gorm:"not null;default:''"`
	SubscriptionStatus string    `gorm:"not null;default:'none'"`
	ReferralCode       string    `gorm:"not null;default:'';index:idx_accounts_referral_code"`
	ReferredBy         string    `gorm:"not null;default:'';index:idx_accounts_referred_by"`
	CreatedAt          time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// AppliedReference mirrors the applied_references table: the idempotency record
// whose primary key makes a second insert for the same payment reference fail.
type AppliedReference struct {
	ReferenceID    string    `gorm:"primaryKey"`
	AccountID      string    `gorm:"type:uuid;not null;index:idx_applied_account"`
	MinutesApplied int64     `gorm:"not null"`
	AppliedAt      time.Time `gorm:"not null"`
}

func (AppliedReference) TableName() string { return "applied_references" }

// InvoiceRecord mirrors the invoice_records table. The external payment
// reference is the primary key, so upserts absorb concurrent duplicates.
type InvoiceRecord struct {
	ReferenceID    string         `gorm:"primaryKey"`
	AccountID      string         `gorm:"type:uuid;not null;index:idx_invoices_account_created,priority:1"`
	Kind           string         `gorm:"not null"`
	Description    string         `gorm:"not null;default:''"`
	AmountCents    int64          `gorm:"not null;default:0"`
	Currency       string         `gorm:"not null;default:''"`
	MinutesGranted int64          `gorm:"not null;default:0"`
	Status         string         `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_invoices_account_created,priority:2"`
}

func (InvoiceRecord) TableName() string { return "invoice_records" }

// Invitation mirrors the invitations table.
type Invitation struct {
	InvitationID    string     `gorm:"primaryKey"`
	HostAccountID   string     `gorm:"type:uuid;not null;index:idx_invitations_host_created,priority:1"`
	Status          string     `gorm:"not null"`
	ServiceID       string     `gorm:"not null"`
	ServiceName     string     `gorm:"not null"`
	ReservedMinutes int64      `gorm:"not null"`
	FinalServiceID  *string    `gorm:""`
	FinalMinutes    *int64     `gorm:""`
	CreatedAt       time.Time  `gorm:"not null;index:idx_invitations_host_created,priority:2"`
	UsedAt          *time.Time `gorm:""`
}

func (Invitation) TableName() string { return "invitations" }

// Visit mirrors the visits table of completed service records.
type Visit struct {
	VisitID       string    `gorm:"primaryKey"`
	HostAccountID string    `gorm:"type:uuid;not null;index:idx_visits_host"`
	InvitationID  string    `gorm:"not null"`
	ServiceID     string    `gorm:"not null"`
	ServiceName   string    `gorm:"not null"`
	Minutes       int64     `gorm:"not null"`
	GuestVisit    bool      `gorm:"not null;default:false"`
	PaymentMethod string    `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
}

func (Visit) TableName() string { return "visits" }

func (visit *Visit) BeforeCreate(tx *gorm.DB) error {
	if visit.VisitID == "" {
		visit.VisitID = uuid.NewString()
	}
	return nil
}
