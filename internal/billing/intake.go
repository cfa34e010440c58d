package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opalworks/spaledger/pkg/engine"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys the checkout flow stamps onto subscriptions and payment intents.
const (
	metadataKeyUserID         = "spa_user_id"
	metadataKeyPlanID         = "plan_id"
	metadataKeyPackName       = "pack_name"
	metadataKeyPackMinutes    = "pack_minutes"
	metadataKeyServiceID      = "service_id"
	metadataKeyServiceMinutes = "service_minutes"
)

var (
	// ErrEventIgnored marks event types and billing reasons the ledger does not
	// react to; the webhook route acknowledges them without doing anything.
	ErrEventIgnored = errors.New("billing: event ignored")
	// ErrInvalidEvent marks payloads that fail signature verification or carry
	// metadata the ledger cannot act on.
	ErrInvalidEvent = errors.New("billing: invalid event")
)

// Intake verifies and translates billing webhook payloads into payment signals.
// It is the only place Stripe wire types appear; the engine sees PaymentSignal.
type Intake struct {
	webhookSecret string
}

func NewIntake(webhookSecret string) (*Intake, error) {
	if webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret must not be empty", ErrInvalidEvent)
	}
	return &Intake{webhookSecret: webhookSecret}, nil
}

// ParseEvent verifies the webhook signature and extracts a payment signal.
func (intake *Intake) ParseEvent(payload []byte, signatureHeader string) (engine.PaymentSignal, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, intake.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return engine.PaymentSignal{}, fmt.Errorf("%w: signature verification failed: %v", ErrInvalidEvent, err)
	}
	switch event.Type {
	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: invoice payload: %v", ErrInvalidEvent, err)
		}
		return signalFromInvoice(invoice)
	case stripe.EventTypePaymentIntentSucceeded:
		var paymentIntent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &paymentIntent); err != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: payment intent payload: %v", ErrInvalidEvent, err)
		}
		return signalFromPaymentIntent(paymentIntent)
	}
	return engine.PaymentSignal{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
}

func signalFromInvoice(invoice stripe.Invoice) (engine.PaymentSignal, error) {
	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil {
		return engine.PaymentSignal{}, fmt.Errorf("%w: invoice %s has no subscription details", ErrEventIgnored, invoice.ID)
	}
	details := invoice.Parent.SubscriptionDetails
	billingReason, err := mapBillingReason(invoice.BillingReason)
	if err != nil {
		return engine.PaymentSignal{}, err
	}
	referenceID, err := engine.NewReferenceID(invoice.ID)
	if err != nil {
		return engine.PaymentSignal{}, fmt.Errorf("%w: invoice id: %v", ErrInvalidEvent, err)
	}
	userID, err := metadataUserID(details.Metadata)
	if err != nil {
		return engine.PaymentSignal{}, err
	}
	planID, err := engine.NewPlanID(details.Metadata[metadataKeyPlanID])
	if err != nil {
		return engine.PaymentSignal{}, fmt.Errorf("%w: invoice %s carries no plan metadata", ErrInvalidEvent, invoice.ID)
	}
	signal := engine.PaymentSignal{
		ReferenceID:   referenceID,
		Kind:          engine.SignalSubscriptionInvoice,
		UserID:        userID,
		BillingReason: billingReason,
		PlanID:        planID,
		AmountCents:   invoice.AmountPaid,
		Currency:      string(invoice.Currency),
		Description:   invoice.Description,
	}
	if details.Subscription != nil {
		signal.SubscriptionID = details.Subscription.ID
	}
	return signal, nil
}

func signalFromPaymentIntent(paymentIntent stripe.PaymentIntent) (engine.PaymentSignal, error) {
	referenceID, err := engine.NewReferenceID(paymentIntent.ID)
	if err != nil {
		return engine.PaymentSignal{}, fmt.Errorf("%w: payment intent id: %v", ErrInvalidEvent, err)
	}
	userID, err := metadataUserID(paymentIntent.Metadata)
	if err != nil {
		return engine.PaymentSignal{}, err
	}
	signal := engine.PaymentSignal{
		ReferenceID: referenceID,
		Kind:        engine.SignalOneTimeCharge,
		UserID:      userID,
		AmountCents: paymentIntent.Amount,
		Currency:    string(paymentIntent.Currency),
		Description: paymentIntent.Description,
	}
	if rawMinutes, present := paymentIntent.Metadata[metadataKeyPackMinutes]; present {
		packMinutes, parseErr := strconv.ParseInt(rawMinutes, 10, 64)
		if parseErr != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: pack minutes %q", ErrInvalidEvent, rawMinutes)
		}
		signal.PackMinutes = packMinutes
		signal.PackName = paymentIntent.Metadata[metadataKeyPackName]
	}
	if rawServiceID, present := paymentIntent.Metadata[metadataKeyServiceID]; present {
		serviceID, serviceErr := engine.NewServiceID(rawServiceID)
		if serviceErr != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: service id %q", ErrInvalidEvent, rawServiceID)
		}
		signal.AppointmentServiceID = serviceID
		if rawMinutes, minutesPresent := paymentIntent.Metadata[metadataKeyServiceMinutes]; minutesPresent {
			serviceMinutes, parseErr := strconv.ParseInt(rawMinutes, 10, 64)
			if parseErr != nil {
				return engine.PaymentSignal{}, fmt.Errorf("%w: service minutes %q", ErrInvalidEvent, rawMinutes)
			}
			signal.AppointmentMinutes = serviceMinutes
		}
	}
	return signal, nil
}

func metadataUserID(metadata map[string]string) (engine.UserID, error) {
	userID, err := engine.NewUserID(metadata[metadataKeyUserID])
	if err != nil {
		return engine.UserID{}, fmt.Errorf("%w: missing %s metadata", ErrInvalidEvent, metadataKeyUserID)
	}
	return userID, nil
}

func mapBillingReason(reason stripe.InvoiceBillingReason) (engine.BillingReason, error) {
	switch reason {
	case stripe.InvoiceBillingReasonSubscriptionCreate:
		return engine.BillingReasonSubscriptionCreate, nil
	case stripe.InvoiceBillingReasonSubscriptionCycle:
		return engine.BillingReasonSubscriptionCycle, nil
	case stripe.InvoiceBillingReasonSubscriptionUpdate:
		return engine.BillingReasonSubscriptionUpdate, nil
	}
	return "", fmt.Errorf("%w: billing reason %s", ErrEventIgnored, reason)
}
