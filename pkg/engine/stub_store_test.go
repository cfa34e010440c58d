package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// stubStore is an in-memory Store with snapshot-based transaction rollback, so
// a failing WithTx body leaves state untouched like a real database would.
type stubStore struct {
	accountSeq      int
	accountsByID    map[string]*Account
	accountIDByUser map[string]string
	applied         map[string]AppliedReference
	invoices        map[string]InvoiceRecord
	invitations     map[string]*Invitation
	visits          []Visit
	referralRows    []ReferralRow

	// lockedAccountIDs records every GetAccountForUpdate call, so tests can
	// assert that check-then-write paths take the row lock.
	lockedAccountIDs []string

	// hideApplied makes HasAppliedReference report false while the unique index
	// still holds the reference, simulating the check-then-insert race window.
	hideApplied bool
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accountsByID:    map[string]*Account{},
		accountIDByUser: map[string]string{},
		applied:         map[string]AppliedReference{},
		invoices:        map[string]InvoiceRecord{},
		invitations:     map[string]*Invitation{},
	}
}

func (store *stubStore) snapshot() *stubStore {
	copied := &stubStore{
		accountSeq:      store.accountSeq,
		accountsByID:    map[string]*Account{},
		accountIDByUser: map[string]string{},
		applied:         map[string]AppliedReference{},
		invoices:        map[string]InvoiceRecord{},
		invitations:     map[string]*Invitation{},
		visits:          append([]Visit(nil), store.visits...),
		referralRows:    append([]ReferralRow(nil), store.referralRows...),
		hideApplied:     store.hideApplied,
	}
	for key, account := range store.accountsByID {
		value := *account
		copied.accountsByID[key] = &value
	}
	for key, value := range store.accountIDByUser {
		copied.accountIDByUser[key] = value
	}
	for key, value := range store.applied {
		copied.applied[key] = value
	}
	for key, value := range store.invoices {
		copied.invoices[key] = value
	}
	for key, invitation := range store.invitations {
		value := *invitation
		copied.invitations[key] = &value
	}
	return copied
}

func (store *stubStore) restore(from *stubStore) {
	store.accountSeq = from.accountSeq
	store.accountsByID = from.accountsByID
	store.accountIDByUser = from.accountIDByUser
	store.applied = from.applied
	store.invoices = from.invoices
	store.invitations = from.invitations
	store.visits = from.visits
	store.referralRows = from.referralRows
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	before := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(before)
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error) {
	if accountID, exists := store.accountIDByUser[userID.String()]; exists {
		return *store.accountsByID[accountID], nil
	}
	store.accountSeq++
	rawID := fmt.Sprintf("acct-%d", store.accountSeq)
	accountID, err := NewAccountID(rawID)
	if err != nil {
		return Account{}, err
	}
	account := &Account{
		AccountID:          accountID,
		UserID:             userID,
		SubscriptionStatus: SubscriptionStatusNone,
	}
	store.accountsByID[rawID] = account
	store.accountIDByUser[userID.String()] = rawID
	return *account, nil
}

func (store *stubStore) GetAccountByUserID(ctx context.Context, userID UserID) (Account, error) {
	accountID, exists := store.accountIDByUser[userID.String()]
	if !exists {
		return Account{}, ErrAccountNotFound
	}
	return *store.accountsByID[accountID], nil
}

func (store *stubStore) GetAccountByID(ctx context.Context, accountID AccountID) (Account, error) {
	account, exists := store.accountsByID[accountID.String()]
	if !exists {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error) {
	store.lockedAccountIDs = append(store.lockedAccountIDs, accountID.String())
	return store.GetAccountByID(ctx, accountID)
}

func (store *stubStore) CreditBalance(ctx context.Context, accountID AccountID, amount Duration) (Minutes, error) {
	account, exists := store.accountsByID[accountID.String()]
	if !exists {
		return 0, ErrAccountNotFound
	}
	account.MinutesBalance += amount.Minutes()
	return account.MinutesBalance, nil
}

func (store *stubStore) DebitBalance(ctx context.Context, accountID AccountID, amount Duration) (Minutes, error) {
	account, exists := store.accountsByID[accountID.String()]
	if !exists {
		return 0, ErrAccountNotFound
	}
	if account.MinutesBalance < amount.Minutes() {
		return 0, ErrInsufficientBalance
	}
	account.MinutesBalance -= amount.Minutes()
	return account.MinutesBalance, nil
}

func (store *stubStore) SetSubscription(ctx context.Context, accountID AccountID, planID PlanID, subscriptionID string, status SubscriptionStatus) error {
	account, exists := store.accountsByID[accountID.String()]
	if !exists {
		return ErrAccountNotFound
	}
	account.CurrentPlanID = planID
	account.SubscriptionID = subscriptionID
	account.SubscriptionStatus = status
	return nil
}

func (store *stubStore) SetSubscriptionStatus(ctx context.Context, accountID AccountID, status SubscriptionStatus) error {
	account, exists := store.accountsByID[accountID.String()]
	if !exists {
		return ErrAccountNotFound
	}
	account.SubscriptionStatus = status
	return nil
}

func (store *stubStore) HasAppliedReference(ctx context.Context, referenceID ReferenceID) (bool, error) {
	if store.hideApplied {
		return false, nil
	}
	_, exists := store.applied[referenceID.String()]
	return exists, nil
}

func (store *stubStore) InsertAppliedReference(ctx context.Context, reference AppliedReference) error {
	if _, exists := store.applied[reference.ReferenceID.String()]; exists {
		return ErrReferenceApplied
	}
	store.applied[reference.ReferenceID.String()] = reference
	return nil
}

func (store *stubStore) UpsertInvoiceRecord(ctx context.Context, record InvoiceRecord) error {
	if _, exists := store.invoices[record.ReferenceID.String()]; exists {
		return nil
	}
	store.invoices[record.ReferenceID.String()] = record
	return nil
}

func (store *stubStore) ListInvoiceRecords(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]InvoiceRecord, error) {
	records := make([]InvoiceRecord, 0, len(store.invoices))
	for _, record := range store.invoices {
		if record.AccountID == accountID && record.CreatedUnixUTC < beforeUnixUTC {
			records = append(records, record)
		}
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (store *stubStore) CreateInvitation(ctx context.Context, invitation Invitation) error {
	value := invitation
	store.invitations[invitation.InvitationID.String()] = &value
	return nil
}

func (store *stubStore) GetInvitationForUpdate(ctx context.Context, invitationID InvitationID) (Invitation, error) {
	invitation, exists := store.invitations[invitationID.String()]
	if !exists {
		return Invitation{}, ErrInvitationNotFound
	}
	return *invitation, nil
}

func (store *stubStore) UpdateInvitationStatus(ctx context.Context, invitationID InvitationID, from InvitationStatus, to InvitationStatus) error {
	invitation, exists := store.invitations[invitationID.String()]
	if !exists {
		return ErrInvitationNotFound
	}
	if invitation.Status != from {
		return ErrInvitationNotActive
	}
	invitation.Status = to
	return nil
}

func (store *stubStore) FinalizeInvitation(ctx context.Context, invitationID InvitationID, finalServiceID ServiceID, finalDuration Duration, usedUnixUTC int64) error {
	invitation, exists := store.invitations[invitationID.String()]
	if !exists {
		return ErrInvitationNotFound
	}
	if invitation.Status != InvitationStatusActive {
		return ErrInvitationNotActive
	}
	invitation.Status = InvitationStatusUsed
	invitation.FinalServiceID = finalServiceID
	invitation.FinalDuration = finalDuration
	invitation.UsedUnixUTC = usedUnixUTC
	return nil
}

func (store *stubStore) CountInvitationsSince(ctx context.Context, hostAccountID AccountID, sinceUnixUTC int64) (int, error) {
	count := 0
	for _, invitation := range store.invitations {
		if invitation.HostAccountID != hostAccountID {
			continue
		}
		if invitation.Status == InvitationStatusCancelled {
			continue
		}
		if invitation.CreatedUnixUTC >= sinceUnixUTC {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) ListInvitations(ctx context.Context, hostAccountID AccountID) ([]Invitation, error) {
	invitations := make([]Invitation, 0, len(store.invitations))
	for _, invitation := range store.invitations {
		if invitation.HostAccountID == hostAccountID {
			invitations = append(invitations, *invitation)
		}
	}
	return invitations, nil
}

func (store *stubStore) CreateVisit(ctx context.Context, visit Visit) error {
	store.visits = append(store.visits, visit)
	return nil
}

func (store *stubStore) ListReferredAccounts(ctx context.Context, referralCode string) ([]Account, error) {
	accounts := make([]Account, 0)
	for _, account := range store.accountsByID {
		if account.ReferredBy == referralCode {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func (store *stubStore) ListReferralRows(ctx context.Context, referralCode string) ([]ReferralRow, error) {
	return append([]ReferralRow(nil), store.referralRows...), nil
}

func (store *stubStore) SumRewardMinutes(ctx context.Context, accountID AccountID) (Minutes, error) {
	var total Minutes
	for _, record := range store.invoices {
		if record.AccountID == accountID && record.Kind == GrantReferralReward {
			total += record.MinutesGranted
		}
	}
	return total, nil
}

func (store *stubStore) mustInvitation(test *testing.T, invitationID InvitationID) Invitation {
	test.Helper()
	invitation, exists := store.invitations[invitationID.String()]
	if !exists {
		test.Fatalf("invitation %s not found", invitationID.String())
	}
	return *invitation
}

// stubPlanCatalog and stubServiceCatalog stand in for the excluded catalog system.
type stubPlanCatalog struct {
	plans map[string]Plan
}

func (catalog *stubPlanCatalog) GetPlan(ctx context.Context, planID PlanID) (Plan, error) {
	plan, exists := catalog.plans[planID.String()]
	if !exists {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

type stubServiceCatalog struct {
	services map[string]ServiceInfo
}

func (catalog *stubServiceCatalog) GetService(ctx context.Context, serviceID ServiceID) (ServiceInfo, error) {
	info, exists := catalog.services[serviceID.String()]
	if !exists {
		return ServiceInfo{}, ErrServiceNotFound
	}
	return info, nil
}

type stubGateway struct {
	changeResult          PlanChangeResult
	changeErr             error
	cancelErr             error
	changedSubscriptionID string
	changedPriceID        string
	cancelled             []string
}

func (gateway *stubGateway) ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, priceID string, metadata map[string]string) (PlanChangeResult, error) {
	gateway.changedSubscriptionID = subscriptionID
	gateway.changedPriceID = priceID
	return gateway.changeResult, gateway.changeErr
}

func (gateway *stubGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	gateway.cancelled = append(gateway.cancelled, subscriptionID)
	return gateway.cancelErr
}

type stubNotifier struct {
	receipts    []InvoiceRecord
	settlements []Visit
}

func (notifier *stubNotifier) PaymentReceipt(ctx context.Context, account Account, record InvoiceRecord) {
	notifier.receipts = append(notifier.receipts, record)
}

func (notifier *stubNotifier) RedemptionSettled(ctx context.Context, account Account, visit Visit) {
	notifier.settlements = append(notifier.settlements, visit)
}

func stubCatalogs() (*stubPlanCatalog, *stubServiceCatalog) {
	plans := &stubPlanCatalog{plans: map[string]Plan{
		"essentiel": {
			PlanID:         PlanID{value: "essentiel"},
			Title:          "Essentiel",
			Minutes:        50,
			BillingPriceID: "price_essentiel",
			GuestPasses:    GuestPassAllowance{Quantity: 1, Period: QuotaPeriodMonth},
		},
		"serenite": {
			PlanID:         PlanID{value: "serenite"},
			Title:          "Sérénité",
			Minutes:        120,
			BillingPriceID: "price_serenite",
			GuestPasses:    GuestPassAllowance{Quantity: 4, Period: QuotaPeriodWeek},
		},
	}}
	services := &stubServiceCatalog{services: map[string]ServiceInfo{
		"svc-massage": {ServiceID: ServiceID{value: "svc-massage"}, Name: "Massage californien"},
		"svc-hammam":  {ServiceID: ServiceID{value: "svc-hammam"}, Name: "Hammam"},
	}}
	return plans, services
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	plans, services := stubCatalogs()
	service, err := NewService(store, plans, services, func() time.Time {
		return time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC)
	}, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustSeedAccount(test *testing.T, store *stubStore, rawUserID string, balance int64) Account {
	test.Helper()
	userID := mustUserID(test, rawUserID)
	account, err := store.GetOrCreateAccount(context.Background(), userID)
	if err != nil {
		test.Fatalf("seed account: %v", err)
	}
	stored := store.accountsByID[account.AccountID.String()]
	stored.MinutesBalance = Minutes(balance)
	return *stored
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustReferenceID(test *testing.T, raw string) ReferenceID {
	test.Helper()
	value, err := NewReferenceID(raw)
	if err != nil {
		test.Fatalf("reference id: %v", err)
	}
	return value
}

func mustInvitationID(test *testing.T, raw string) InvitationID {
	test.Helper()
	value, err := NewInvitationID(raw)
	if err != nil {
		test.Fatalf("invitation id: %v", err)
	}
	return value
}

func mustPlanID(test *testing.T, raw string) PlanID {
	test.Helper()
	value, err := NewPlanID(raw)
	if err != nil {
		test.Fatalf("plan id: %v", err)
	}
	return value
}

func mustServiceID(test *testing.T, raw string) ServiceID {
	test.Helper()
	value, err := NewServiceID(raw)
	if err != nil {
		test.Fatalf("service id: %v", err)
	}
	return value
}

func mustDuration(test *testing.T, raw int64) Duration {
	test.Helper()
	value, err := NewDuration(raw)
	if err != nil {
		test.Fatalf("duration: %v", err)
	}
	return value
}
