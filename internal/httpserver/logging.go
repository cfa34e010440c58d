package httpserver

import (
	"context"

	"github.com/opalworks/spaledger/pkg/engine"
	"go.uber.org/zap"
)

// ZapOperationLogger forwards engine operation callbacks to a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogNotifier is the default Notifier: receipts and settlement events are
// logged instead of delivered. Real delivery plugs in behind engine.Notifier.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (notifier *LogNotifier) PaymentReceipt(_ context.Context, account engine.Account, record engine.InvoiceRecord) {
	notifier.logger.Info("payment receipt",
		zap.String("account_id", account.AccountID.String()),
		zap.String("reference_id", record.ReferenceID.String()),
		zap.Int64("minutes_granted", record.MinutesGranted.Int64()),
	)
}

func (notifier *LogNotifier) RedemptionSettled(_ context.Context, account engine.Account, visit engine.Visit) {
	notifier.logger.Info("redemption settled",
		zap.String("account_id", account.AccountID.String()),
		zap.String("visit_id", visit.VisitID),
		zap.Int64("minutes", visit.DurationMinutes.Int64()),
	)
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry engine.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.ReferenceID.String() != "" {
		fields = append(fields, zap.String("reference_id", entry.ReferenceID.String()))
	}
	if entry.InvitationID.String() != "" {
		fields = append(fields, zap.String("invitation_id", entry.InvitationID.String()))
	}
	if entry.Minutes != 0 {
		fields = append(fields, zap.Int64("minutes", entry.Minutes.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
