package engine

import (
	"context"
	"errors"
	"testing"
)

func subscriptionGrant(test *testing.T, rawPlanID string, minutes int64, assignPlan bool) EntitlementGrant {
	test.Helper()
	return EntitlementGrant{
		Kind:           GrantSubscriptionPlan,
		PlanID:         mustPlanID(test, rawPlanID),
		SubscriptionID: "sub_123",
		MinutesToAdd:   Minutes(minutes),
		AssignPlan:     assignPlan,
		Description:    "Essentiel",
	}
}

func TestApplyNewSubscriptionCreditsAndAssignsPlan(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "user-1", 0)
	service := mustNewService(test, store)
	referenceID := mustReferenceID(test, "inv_001")

	outcome, err := service.Apply(context.Background(), referenceID, account.AccountID, subscriptionGrant(test, "essentiel", 50, true), InvoiceMetadata{Description: "Essentiel", AmountCents: 4900, Currency: "eur"})
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if !outcome.Applied {
		test.Fatal("expected first apply to report applied")
	}
	if outcome.NewBalance != 50 {
		test.Fatalf("expected balance 50, got %d", outcome.NewBalance)
	}
	updated, err := store.GetAccountByID(context.Background(), account.AccountID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if updated.CurrentPlanID.String() != "essentiel" {
		test.Fatalf("expected plan essentiel, got %q", updated.CurrentPlanID.String())
	}
	if updated.SubscriptionStatus != SubscriptionStatusActive {
		test.Fatalf("expected active subscription, got %s", updated.SubscriptionStatus)
	}
	if _, exists := store.invoices[referenceID.String()]; !exists {
		test.Fatal("expected invoice record for reference")
	}
}

func TestApplySameReferenceIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "user-1", 0)
	service := mustNewService(test, store)
	referenceID := mustReferenceID(test, "inv_001")
	grant := subscriptionGrant(test, "essentiel", 50, true)

	first, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{})
	if err != nil {
		test.Fatalf("first apply: %v", err)
	}
	second, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{})
	if err != nil {
		test.Fatalf("second apply: %v", err)
	}
	if !first.Applied || second.Applied {
		test.Fatalf("expected applied=true then applied=false, got %v then %v", first.Applied, second.Applied)
	}
	if second.NewBalance != first.NewBalance {
		test.Fatalf("expected unchanged balance %d, got %d", first.NewBalance, second.NewBalance)
	}
	if len(store.invoices) != 1 {
		test.Fatalf("expected exactly one invoice record, got %d", len(store.invoices))
	}
}

func TestApplyLostRaceRollsBackAndReportsNotApplied(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "racer", 0)
	service := mustNewService(test, store)
	referenceID := mustReferenceID(test, "inv_002")
	grant := subscriptionGrant(test, "essentiel", 90, true)

	if _, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{}); err != nil {
		test.Fatalf("first apply: %v", err)
	}
	// The concurrent path saw no applied-reference row yet, credited, and then hit
	// the unique constraint on insert.
	store.hideApplied = true
	outcome, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{})
	if err != nil {
		test.Fatalf("racing apply: %v", err)
	}
	if outcome.Applied {
		test.Fatal("expected racing apply to report not applied")
	}
	if outcome.NewBalance != 90 {
		test.Fatalf("expected balance 90 after race, got %d", outcome.NewBalance)
	}
}

func TestApplyRenewalDoesNotReassignPlan(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "renewer", 0)
	service := mustNewService(test, store)

	if _, err := service.Apply(context.Background(), mustReferenceID(test, "inv_create"), account.AccountID, subscriptionGrant(test, "essentiel", 50, true), InvoiceMetadata{}); err != nil {
		test.Fatalf("create apply: %v", err)
	}
	// Simulate the plan having been switched out of band before the renewal lands.
	store.accountsByID[account.AccountID.String()].CurrentPlanID = mustPlanID(test, "serenite")

	outcome, err := service.Apply(context.Background(), mustReferenceID(test, "inv_renew"), account.AccountID, subscriptionGrant(test, "essentiel", 50, false), InvoiceMetadata{})
	if err != nil {
		test.Fatalf("renewal apply: %v", err)
	}
	if outcome.NewBalance != 100 {
		test.Fatalf("expected balance 100 after renewal, got %d", outcome.NewBalance)
	}
	updated, _ := store.GetAccountByID(context.Background(), account.AccountID)
	if updated.CurrentPlanID.String() != "serenite" {
		test.Fatalf("renewal must not reassign plan, got %q", updated.CurrentPlanID.String())
	}
}

func TestApplyAppointmentChargeKeepsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "visitor", 30)
	service := mustNewService(test, store)

	outcome, err := service.Apply(context.Background(), mustReferenceID(test, "pi_123"), account.AccountID, EntitlementGrant{
		Kind:        GrantAppointmentCharge,
		Description: "Massage californien",
	}, InvoiceMetadata{Description: "Massage californien", AmountCents: 8000, Currency: "eur"})
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if !outcome.Applied {
		test.Fatal("expected applied")
	}
	if outcome.NewBalance != 30 {
		test.Fatalf("appointment charge must not change balance, got %d", outcome.NewBalance)
	}
	record, exists := store.invoices["pi_123"]
	if !exists {
		test.Fatal("expected invoice record")
	}
	if record.MinutesGranted != 0 {
		test.Fatalf("expected zero minutes granted, got %d", record.MinutesGranted)
	}
}

func TestApplyRejectsInvalidGrant(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "user-1", 0)
	service := mustNewService(test, store)

	_, err := service.Apply(context.Background(), mustReferenceID(test, "inv_bad"), account.AccountID, EntitlementGrant{
		Kind: GrantSubscriptionPlan,
	}, InvoiceMetadata{})
	if !errors.Is(err, ErrInvalidGrant) {
		test.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if len(store.invoices) != 0 || len(store.applied) != 0 {
		test.Fatal("invalid grant must not write records")
	}
}

func TestApplyNotifiesReceiptOnlyWhenApplied(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "user-1", 0)
	notifier := &stubNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))
	referenceID := mustReferenceID(test, "inv_777")
	grant := subscriptionGrant(test, "essentiel", 50, true)

	if _, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{}); err != nil {
		test.Fatalf("apply: %v", err)
	}
	if _, err := service.Apply(context.Background(), referenceID, account.AccountID, grant, InvoiceMetadata{}); err != nil {
		test.Fatalf("replay apply: %v", err)
	}
	if len(notifier.receipts) != 1 {
		test.Fatalf("expected one receipt, got %d", len(notifier.receipts))
	}
}
