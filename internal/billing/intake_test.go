package billing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opalworks/spaledger/internal/billing"
	"github.com/opalworks/spaledger/pkg/engine"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(test *testing.T, payload []byte, secret string) string {
	test.Helper()
	timestamp := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func mustIntake(test *testing.T) *billing.Intake {
	test.Helper()
	intake, err := billing.NewIntake(testWebhookSecret)
	if err != nil {
		test.Fatalf("new intake: %v", err)
	}
	return intake
}

func invoicePaidPayload(billingReason string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"type": "invoice.paid",
		"data": {
			"object": {
				"id": "in_test_001",
				"object": "invoice",
				"billing_reason": %q,
				"amount_paid": 4900,
				"currency": "eur",
				"description": "Abonnement Essentiel",
				"parent": {
					"type": "subscription_details",
					"subscription_details": {
						"subscription": "sub_test_001",
						"metadata": {
							"spa_user_id": "user-42",
							"plan_id": "essentiel"
						}
					}
				}
			}
		}
	}`, billingReason))
}

func TestParseEvent_InvoicePaid(test *testing.T) {
	intake := mustIntake(test)
	payload := invoicePaidPayload("subscription_create")

	signal, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if signal.Kind != engine.SignalSubscriptionInvoice {
		test.Fatalf("expected subscription invoice signal, received %s", signal.Kind)
	}
	if signal.ReferenceID.String() != "in_test_001" {
		test.Fatalf("expected reference in_test_001, received %s", signal.ReferenceID.String())
	}
	if signal.UserID.String() != "user-42" {
		test.Fatalf("expected user user-42, received %s", signal.UserID.String())
	}
	if signal.PlanID.String() != "essentiel" {
		test.Fatalf("expected plan essentiel, received %s", signal.PlanID.String())
	}
	if signal.BillingReason != engine.BillingReasonSubscriptionCreate {
		test.Fatalf("expected subscription_create reason, received %s", signal.BillingReason)
	}
	if signal.SubscriptionID != "sub_test_001" {
		test.Fatalf("expected subscription sub_test_001, received %s", signal.SubscriptionID)
	}
	if signal.AmountCents != 4900 || signal.Currency != "eur" {
		test.Fatalf("expected 4900 eur, received %d %s", signal.AmountCents, signal.Currency)
	}
}

func TestParseEvent_RenewalReason(test *testing.T) {
	intake := mustIntake(test)
	payload := invoicePaidPayload("subscription_cycle")

	signal, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if signal.BillingReason != engine.BillingReasonSubscriptionCycle {
		test.Fatalf("expected subscription_cycle reason, received %s", signal.BillingReason)
	}
}

func TestParseEvent_ManualInvoiceIgnored(test *testing.T) {
	intake := mustIntake(test)
	payload := invoicePaidPayload("manual")

	_, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if !errors.Is(err, billing.ErrEventIgnored) {
		test.Fatalf("expected ErrEventIgnored for manual invoices, received %v", err)
	}
}

func TestParseEvent_BadSignature(test *testing.T) {
	intake := mustIntake(test)
	payload := invoicePaidPayload("subscription_create")

	_, err := intake.ParseEvent(payload, signPayload(test, payload, "whsec_wrong"))
	if !errors.Is(err, billing.ErrInvalidEvent) {
		test.Fatalf("expected ErrInvalidEvent for bad signature, received %v", err)
	}
}

func TestParseEvent_UnhandledType(test *testing.T) {
	intake := mustIntake(test)
	payload := []byte(`{"id":"evt_test_2","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	_, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if !errors.Is(err, billing.ErrEventIgnored) {
		test.Fatalf("expected ErrEventIgnored, received %v", err)
	}
}

func TestParseEvent_MinutePackIntent(test *testing.T) {
	intake := mustIntake(test)
	payload := []byte(`{
		"id": "evt_test_3",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_test_001",
				"object": "payment_intent",
				"amount": 2500,
				"currency": "eur",
				"description": "Pack 60 minutes",
				"metadata": {
					"spa_user_id": "user-42",
					"pack_name": "Pack 60 minutes",
					"pack_minutes": "60"
				}
			}
		}
	}`)

	signal, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if signal.Kind != engine.SignalOneTimeCharge {
		test.Fatalf("expected one-time charge signal, received %s", signal.Kind)
	}
	if signal.PackMinutes != 60 || signal.PackName != "Pack 60 minutes" {
		test.Fatalf("expected 60-minute pack, received %d %q", signal.PackMinutes, signal.PackName)
	}
}

func TestParseEvent_AppointmentIntent(test *testing.T) {
	intake := mustIntake(test)
	payload := []byte(`{
		"id": "evt_test_4",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_test_002",
				"object": "payment_intent",
				"amount": 9000,
				"currency": "eur",
				"metadata": {
					"spa_user_id": "user-42",
					"service_id": "svc-massage",
					"service_minutes": "50"
				}
			}
		}
	}`)

	signal, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if signal.AppointmentServiceID.String() != "svc-massage" {
		test.Fatalf("expected appointment service svc-massage, received %s", signal.AppointmentServiceID.String())
	}
	if signal.AppointmentMinutes != 50 {
		test.Fatalf("expected 50 appointment minutes, received %d", signal.AppointmentMinutes)
	}
	if signal.PackMinutes != 0 {
		test.Fatalf("expected no pack minutes, received %d", signal.PackMinutes)
	}
}

func TestParseEvent_MissingUserMetadata(test *testing.T) {
	intake := mustIntake(test)
	payload := []byte(`{
		"id": "evt_test_5",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_test_003",
				"object": "payment_intent",
				"amount": 2500,
				"currency": "eur",
				"metadata": {"pack_minutes": "60"}
			}
		}
	}`)

	_, err := intake.ParseEvent(payload, signPayload(test, payload, testWebhookSecret))
	if !errors.Is(err, billing.ErrInvalidEvent) {
		test.Fatalf("expected ErrInvalidEvent, received %v", err)
	}
}
