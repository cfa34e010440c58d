package engine

import (
	"context"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsApplyOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	account := mustSeedAccount(test, store, "logged", 0)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	referenceID := mustReferenceID(test, "inv_log")

	if _, err := service.Apply(context.Background(), referenceID, account.AccountID, subscriptionGrant(test, "essentiel", 50, true), InvoiceMetadata{}); err != nil {
		test.Fatalf("apply: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationApply || entry.ReferenceID != referenceID || entry.Minutes != 50 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	host := seedHost(test, store, 5, "essentiel")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	if _, err := service.IssueInvitation(context.Background(), host.AccountID, mustServiceID(test, "svc-massage"), mustDuration(test, 30)); err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
