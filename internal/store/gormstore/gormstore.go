package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opalworks/spaledger/pkg/engine"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAppliedReferencePrimary = "applied_references_pkey"
	defaultMetadataJSON               = "{}"
	pgUniqueViolationCode             = "23505"
	sqliteConstraintCode              = 19
	referralTreeMaxDepth              = 5

	errorOperationStore    = "store"
	errorSubjectAccount    = "account"
	errorSubjectBalance    = "balance"
	errorSubjectReference  = "reference"
	errorSubjectInvoice    = "invoice"
	errorSubjectInvitation = "invitation"
	errorSubjectVisit      = "visit"
	errorSubjectReferral   = "referral"
	errorCodeCount         = "count"
	errorCodeCreate        = "create"
	errorCodeCredit        = "credit"
	errorCodeDebit         = "debit"
	errorCodeDuplicate     = "duplicate"
	errorCodeFinalize      = "finalize"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeLookup        = "lookup"
	errorCodeSum           = "sum"
	errorCodeUpdate        = "update"
	errorCodeUpdateStatus  = "update_status"
	errorCodeUpsert        = "upsert"
)

// Store implements engine.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &AppliedReference{}, &InvoiceRecord{}, &Invitation{}, &Visit{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore engine.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID engine.UserID) (engine.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where(Account{UserID: userID.String()}).
		Attrs(Account{SubscriptionStatus: engine.SubscriptionStatusNone.String()}).
		FirstOrCreate(&account).Error
	if err != nil {
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) GetAccountByUserID(ctx context.Context, userID engine.UserID) (engine.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, engine.ErrAccountNotFound)
		}
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) GetAccountByID(ctx context.Context, accountID engine.AccountID) (engine.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, engine.ErrAccountNotFound)
		}
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

// GetAccountForUpdate holds the row lock until the surrounding transaction
// commits, serializing the invitation quota count against concurrent issuers.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID engine.AccountID) (engine.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, engine.ErrAccountNotFound)
		}
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return engine.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

// CreditBalance adds amount in a single statement evaluated by the database.
func (store *Store) CreditBalance(ctx context.Context, accountID engine.AccountID, amount engine.Duration) (engine.Minutes, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Update("minutes_balance", gorm.Expr("minutes_balance + ?", amount.Int64()))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeCredit, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeCredit, engine.ErrAccountNotFound)
	}
	return store.readBalance(ctx, accountID)
}

// DebitBalance subtracts amount with the floor check inside the same
// statement, so the balance can never go negative regardless of concurrent
// callers.
func (store *Store) DebitBalance(ctx context.Context, accountID engine.AccountID, amount engine.Duration) (engine.Minutes, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND minutes_balance >= ?", accountID.String(), amount.Int64()).
		Update("minutes_balance", gorm.Expr("minutes_balance - ?", amount.Int64()))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		countErr := store.db.WithContext(ctx).
			Model(&Account{}).
			Where("account_id = ?", accountID.String()).
			Count(&count).Error
		if countErr != nil {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeDebit, countErr)
		}
		if count == 0 {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeDebit, engine.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDebit, engine.ErrInsufficientBalance)
	}
	return store.readBalance(ctx, accountID)
}

func (store *Store) readBalance(ctx context.Context, accountID engine.AccountID) (engine.Minutes, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Select("minutes_balance").
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := engine.NewMinutes(account.MinutesBalance)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) SetSubscription(ctx context.Context, accountID engine.AccountID, planID engine.PlanID, subscriptionID string, status engine.SubscriptionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]interface{}{
			"current_plan_id":     planID.String(),
			"subscription_id":     subscriptionID,
			"subscription_status": status.String(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, engine.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) SetSubscriptionStatus(ctx context.Context, accountID engine.AccountID, status engine.SubscriptionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Update("subscription_status", status.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, engine.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) HasAppliedReference(ctx context.Context, referenceID engine.ReferenceID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&AppliedReference{}).
		Where("reference_id = ?", referenceID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectReference, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) InsertAppliedReference(ctx context.Context, reference engine.AppliedReference) error {
	model := AppliedReference{
		ReferenceID:    reference.ReferenceID.String(),
		AccountID:      reference.AccountID.String(),
		MinutesApplied: reference.MinutesApplied.Int64(),
		AppliedAt:      time.Unix(reference.AppliedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAppliedReferencePrimary) {
		return wrapStoreError(errorSubjectReference, errorCodeDuplicate, engine.ErrReferenceApplied)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReference, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpsertInvoiceRecord(ctx context.Context, record engine.InvoiceRecord) error {
	model := InvoiceRecord{
		ReferenceID:    record.ReferenceID.String(),
		AccountID:      record.AccountID.String(),
		Kind:           record.Kind.String(),
		Description:    record.Description,
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		MinutesGranted: record.MinutesGranted.Int64(),
		Status:         record.Status,
		Metadata:       metadataJSON(record.Metadata.String()),
		CreatedAt:      time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectInvoice, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListInvoiceRecords(ctx context.Context, accountID engine.AccountID, beforeUnixUTC int64, limit int) ([]engine.InvoiceRecord, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	var rows []InvoiceRecord
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectInvoice, errorCodeList, err)
	}
	records := make([]engine.InvoiceRecord, 0, len(rows))
	for _, row := range rows {
		record, mapErr := mapInvoiceRecord(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectInvoice, errorCodeInvalid, mapErr)
		}
		records = append(records, record)
	}
	return records, nil
}

func (store *Store) CreateInvitation(ctx context.Context, invitation engine.Invitation) error {
	model := Invitation{
		InvitationID:    invitation.InvitationID.String(),
		HostAccountID:   invitation.HostAccountID.String(),
		Status:          invitation.Status.String(),
		ServiceID:       invitation.ServiceID.String(),
		ServiceName:     invitation.ServiceName,
		ReservedMinutes: invitation.ReservedDuration.Int64(),
		CreatedAt:       time.Unix(invitation.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectInvitation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetInvitationForUpdate(ctx context.Context, invitationID engine.InvitationID) (engine.Invitation, error) {
	var model Invitation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("invitation_id = ?", invitationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Invitation{}, wrapStoreError(errorSubjectInvitation, errorCodeGet, engine.ErrInvitationNotFound)
		}
		return engine.Invitation{}, wrapStoreError(errorSubjectInvitation, errorCodeGet, err)
	}
	invitation, err := mapInvitation(model)
	if err != nil {
		return engine.Invitation{}, wrapStoreError(errorSubjectInvitation, errorCodeInvalid, err)
	}
	return invitation, nil
}

func (store *Store) UpdateInvitationStatus(ctx context.Context, invitationID engine.InvitationID, from engine.InvitationStatus, to engine.InvitationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("invitation_id = ? AND status = ?", invitationID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectInvitation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInvitation, errorCodeUpdateStatus, engine.ErrInvitationNotActive)
	}
	return nil
}

func (store *Store) FinalizeInvitation(ctx context.Context, invitationID engine.InvitationID, finalServiceID engine.ServiceID, finalDuration engine.Duration, usedUnixUTC int64) error {
	usedAt := time.Unix(usedUnixUTC, 0).UTC()
	finalService := finalServiceID.String()
	finalMinutes := finalDuration.Int64()
	result := store.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("invitation_id = ? AND status = ?", invitationID.String(), engine.InvitationStatusActive.String()).
		Updates(map[string]interface{}{
			"status":           engine.InvitationStatusUsed.String(),
			"final_service_id": &finalService,
			"final_minutes":    &finalMinutes,
			"used_at":          &usedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInvitation, errorCodeFinalize, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInvitation, errorCodeFinalize, engine.ErrInvitationNotActive)
	}
	return nil
}

func (store *Store) CountInvitationsSince(ctx context.Context, hostAccountID engine.AccountID, sinceUnixUTC int64) (int, error) {
	since := time.Unix(sinceUnixUTC, 0).UTC()
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("host_account_id = ? AND status <> ? AND created_at >= ?", hostAccountID.String(), engine.InvitationStatusCancelled.String(), since).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectInvitation, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) ListInvitations(ctx context.Context, hostAccountID engine.AccountID) ([]engine.Invitation, error) {
	var rows []Invitation
	err := store.db.WithContext(ctx).
		Where("host_account_id = ?", hostAccountID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectInvitation, errorCodeList, err)
	}
	invitations := make([]engine.Invitation, 0, len(rows))
	for _, row := range rows {
		invitation, mapErr := mapInvitation(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectInvitation, errorCodeInvalid, mapErr)
		}
		invitations = append(invitations, invitation)
	}
	return invitations, nil
}

func (store *Store) CreateVisit(ctx context.Context, visit engine.Visit) error {
	model := Visit{
		VisitID:       visit.VisitID,
		HostAccountID: visit.HostAccountID.String(),
		InvitationID:  visit.InvitationID.String(),
		ServiceID:     visit.ServiceID.String(),
		ServiceName:   visit.ServiceName,
		Minutes:       visit.DurationMinutes.Int64(),
		GuestVisit:    visit.GuestVisit,
		PaymentMethod: visit.PaymentMethod,
		OccurredAt:    time.Unix(visit.OccurredUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectVisit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListReferredAccounts(ctx context.Context, referralCode string) ([]engine.Account, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Where("referred_by = ?", referralCode).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	accounts := make([]engine.Account, 0, len(rows))
	for _, row := range rows {
		account, mapErr := mapAccount(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectReferral, errorCodeInvalid, mapErr)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// ListReferralRows walks the referral graph breadth-first. Level 1 rows were
// referred by the affiliate code itself, deeper levels by the account ids of
// the level above. Depth is capped so a cyclic referred_by chain cannot loop.
func (store *Store) ListReferralRows(ctx context.Context, referralCode string) ([]engine.ReferralRow, error) {
	rows := make([]engine.ReferralRow, 0)
	parents := []string{referralCode}
	for level := 1; level <= referralTreeMaxDepth && len(parents) > 0; level++ {
		var accounts []Account
		err := store.db.WithContext(ctx).
			Where("referred_by IN ?", parents).
			Find(&accounts).Error
		if err != nil {
			return nil, wrapStoreError(errorSubjectReferral, errorCodeList, err)
		}
		nextParents := make([]string, 0, len(accounts))
		for _, account := range accounts {
			rows = append(rows, engine.ReferralRow{
				ID:         account.AccountID,
				ReferredBy: account.ReferredBy,
				Level:      level,
			})
			nextParents = append(nextParents, account.AccountID)
		}
		parents = nextParents
	}
	return rows, nil
}

func (store *Store) SumRewardMinutes(ctx context.Context, accountID engine.AccountID) (engine.Minutes, error) {
	var sum struct {
		Total int64
	}
	err := store.db.WithContext(ctx).
		Model(&InvoiceRecord{}).
		Select("coalesce(sum(minutes_granted),0) as total").
		Where("account_id = ? AND kind = ?", accountID.String(), engine.GrantReferralReward.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectReferral, errorCodeSum, err)
	}
	total, err := engine.NewMinutes(sum.Total)
	if err != nil {
		return 0, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	return total, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return engine.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(row Account) (engine.Account, error) {
	accountID, err := engine.NewAccountID(row.AccountID)
	if err != nil {
		return engine.Account{}, err
	}
	userID, err := engine.NewUserID(row.UserID)
	if err != nil {
		return engine.Account{}, err
	}
	balance, err := engine.NewMinutes(row.MinutesBalance)
	if err != nil {
		return engine.Account{}, err
	}
	status, err := engine.ParseSubscriptionStatus(row.SubscriptionStatus)
	if err != nil {
		return engine.Account{}, err
	}
	var planID engine.PlanID
	if row.CurrentPlanID != "" {
		planID, err = engine.NewPlanID(row.CurrentPlanID)
		if err != nil {
			return engine.Account{}, err
		}
	}
	return engine.Account{
		AccountID:          accountID,
		UserID:             userID,
		MinutesBalance:     balance,
		CurrentPlanID:      planID,
		BillingCustomerID:  row.BillingCustomerID,
		SubscriptionID:     row.SubscriptionID,
		SubscriptionStatus: status,
		ReferralCode:       row.ReferralCode,
		ReferredBy:         row.ReferredBy,
		CreatedUnixUTC:     row.CreatedAt.Unix(),
	}, nil
}

func mapInvoiceRecord(row InvoiceRecord) (engine.InvoiceRecord, error) {
	referenceID, err := engine.NewReferenceID(row.ReferenceID)
	if err != nil {
		return engine.InvoiceRecord{}, err
	}
	accountID, err := engine.NewAccountID(row.AccountID)
	if err != nil {
		return engine.InvoiceRecord{}, err
	}
	minutesGranted, err := engine.NewMinutes(row.MinutesGranted)
	if err != nil {
		return engine.InvoiceRecord{}, err
	}
	metadata, err := engine.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return engine.InvoiceRecord{}, err
	}
	return engine.InvoiceRecord{
		ReferenceID:    referenceID,
		AccountID:      accountID,
		Kind:           engine.GrantKind(row.Kind),
		Description:    row.Description,
		AmountCents:    row.AmountCents,
		Currency:       row.Currency,
		MinutesGranted: minutesGranted,
		Status:         row.Status,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapInvitation(row Invitation) (engine.Invitation, error) {
	invitationID, err := engine.NewInvitationID(row.InvitationID)
	if err != nil {
		return engine.Invitation{}, err
	}
	hostAccountID, err := engine.NewAccountID(row.HostAccountID)
	if err != nil {
		return engine.Invitation{}, err
	}
	status, err := engine.ParseInvitationStatus(row.Status)
	if err != nil {
		return engine.Invitation{}, err
	}
	serviceID, err := engine.NewServiceID(row.ServiceID)
	if err != nil {
		return engine.Invitation{}, err
	}
	reservedDuration, err := engine.NewDuration(row.ReservedMinutes)
	if err != nil {
		return engine.Invitation{}, err
	}
	invitation := engine.Invitation{
		InvitationID:     invitationID,
		HostAccountID:    hostAccountID,
		Status:           status,
		ServiceID:        serviceID,
		ServiceName:      row.ServiceName,
		ReservedDuration: reservedDuration,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}
	if row.FinalServiceID != nil {
		finalServiceID, serviceErr := engine.NewServiceID(*row.FinalServiceID)
		if serviceErr != nil {
			return engine.Invitation{}, serviceErr
		}
		invitation.FinalServiceID = finalServiceID
	}
	if row.FinalMinutes != nil {
		finalDuration, durationErr := engine.NewDuration(*row.FinalMinutes)
		if durationErr != nil {
			return engine.Invitation{}, durationErr
		}
		invitation.FinalDuration = finalDuration
	}
	if row.UsedAt != nil {
		invitation.UsedUnixUTC = row.UsedAt.Unix()
	}
	return invitation, nil
}

func metadataJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
