package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/opalworks/spaledger/pkg/engine"
	stripe "github.com/stripe/stripe-go/v82"
)

const prorationBehaviorAlwaysInvoice = "always_invoice"

// ErrGatewayMisconfigured marks gateway construction and upstream-shape failures.
var ErrGatewayMisconfigured = errors.New("billing: gateway misconfigured")

// StripeGateway drives subscription changes against the Stripe API. It
// implements engine.BillingGateway.
type StripeGateway struct {
	client *stripe.Client
}

func NewStripeGateway(apiKey string) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key must not be empty", ErrGatewayMisconfigured)
	}
	return &StripeGateway{client: stripe.NewClient(apiKey, nil)}, nil
}

// ChangeSubscriptionPlan swaps the priced item on the existing subscription and
// invoices the proration immediately. The subscription must carry exactly one
// priced item; a second subscription is never created.
func (gateway *StripeGateway) ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, priceID string, metadata map[string]string) (engine.PlanChangeResult, error) {
	current, err := gateway.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return engine.PlanChangeResult{}, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	if current.Items == nil || len(current.Items.Data) != 1 {
		return engine.PlanChangeResult{}, fmt.Errorf("%w: subscription %s must carry exactly one priced item", ErrGatewayMisconfigured, subscriptionID)
	}
	updateParams := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String(prorationBehaviorAlwaysInvoice),
		Metadata:          metadata,
		Expand:            []*string{stripe.String("latest_invoice")},
	}
	updated, err := gateway.client.V1Subscriptions.Update(ctx, subscriptionID, updateParams)
	if err != nil {
		return engine.PlanChangeResult{}, fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	invoice := updated.LatestInvoice
	if invoice == nil {
		return engine.PlanChangeResult{}, fmt.Errorf("%w: plan change on %s produced no invoice", ErrGatewayMisconfigured, subscriptionID)
	}
	result := engine.PlanChangeResult{
		InvoiceID:      invoice.ID,
		AmountDueCents: invoice.AmountDue,
		Paid:           invoice.Status == stripe.InvoiceStatusPaid,
	}
	if invoice.ConfirmationSecret != nil {
		result.PaymentClientSecret = invoice.ConfirmationSecret.ClientSecret
	}
	return result, nil
}

func (gateway *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if _, err := gateway.client.V1Subscriptions.Cancel(ctx, subscriptionID, &stripe.SubscriptionCancelParams{}); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}
