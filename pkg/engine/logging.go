package engine

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing engine operation.
type OperationLog struct {
	Operation    string
	AccountID    AccountID
	ReferenceID  ReferenceID
	InvitationID InvitationID
	Minutes      Minutes
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithBillingGateway wires the outbound billing surface used for plan changes.
func WithBillingGateway(gateway BillingGateway) ServiceOption {
	return func(service *Service) {
		service.gateway = gateway
	}
}

// WithNotifier wires post-commit notification dispatch.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}
