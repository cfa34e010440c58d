package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/opalworks/spaledger/pkg/engine"
	stripe "github.com/stripe/stripe-go/v82"
)

// Resolver retrieves settled payments from Stripe so client-side confirmations
// are checked against the provider's own record. The request body never decides
// what was paid; only the reference id is taken from the client.
type Resolver struct {
	client *stripe.Client
}

func NewResolver(apiKey string) (*Resolver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key must not be empty", ErrGatewayMisconfigured)
	}
	return &Resolver{client: stripe.NewClient(apiKey, nil)}, nil
}

// ResolvePayment fetches the payment named by referenceID, verifies it settled,
// and rebuilds the signal from the payment's own metadata.
func (resolver *Resolver) ResolvePayment(ctx context.Context, referenceID string) (engine.PaymentSignal, error) {
	switch {
	case strings.HasPrefix(referenceID, "pi_"):
		paymentIntent, err := resolver.client.V1PaymentIntents.Retrieve(ctx, referenceID, nil)
		if err != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: payment intent %s: %v", ErrInvalidEvent, referenceID, err)
		}
		if paymentIntent.Status != stripe.PaymentIntentStatusSucceeded {
			return engine.PaymentSignal{}, fmt.Errorf("%w: payment intent %s is %s", ErrInvalidEvent, referenceID, paymentIntent.Status)
		}
		return signalFromPaymentIntent(*paymentIntent)
	case strings.HasPrefix(referenceID, "in_"):
		invoice, err := resolver.client.V1Invoices.Retrieve(ctx, referenceID, nil)
		if err != nil {
			return engine.PaymentSignal{}, fmt.Errorf("%w: invoice %s: %v", ErrInvalidEvent, referenceID, err)
		}
		if invoice.Status != stripe.InvoiceStatusPaid {
			return engine.PaymentSignal{}, fmt.Errorf("%w: invoice %s is %s", ErrInvalidEvent, referenceID, invoice.Status)
		}
		return signalFromInvoice(*invoice)
	}
	return engine.PaymentSignal{}, fmt.Errorf("%w: reference %q is not a payment id", ErrInvalidEvent, referenceID)
}
