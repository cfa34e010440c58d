package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IssueInvitation reserves minutes against the host's balance for a guest pass.
// Plan eligibility, the period quota, and the balance floor are all checked
// before any mutation; the debit and the invitation insert commit together.
func (service *Service) IssueInvitation(ctx context.Context, hostAccountID AccountID, serviceID ServiceID, duration Duration) (Invitation, error) {
	serviceInfo, err := service.services.GetService(ctx, serviceID)
	if err != nil {
		return Invitation{}, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID.String())
	}
	var invitation Invitation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// The host row stays locked across the quota count and the debit, so two
		// concurrent issuances cannot both pass the quota check.
		account, err := transactionStore.GetAccountForUpdate(ctx, hostAccountID)
		if err != nil {
			return err
		}
		if account.CurrentPlanID.IsZero() {
			return fmt.Errorf("%w: host has no plan", ErrPlanNotEligible)
		}
		plan, err := service.plans.GetPlan(ctx, account.CurrentPlanID)
		if err != nil {
			return fmt.Errorf("%w: plan %s is not in the catalog", ErrPlanNotEligible, account.CurrentPlanID.String())
		}
		if plan.GuestPasses.Quantity <= 0 {
			return fmt.Errorf("%w: plan %s has no guest passes", ErrPlanNotEligible, plan.PlanID.String())
		}
		periodStart := quotaPeriodStart(plan.GuestPasses.Period, service.nowFn().UTC())
		issued, err := transactionStore.CountInvitationsSince(ctx, hostAccountID, periodStart.Unix())
		if err != nil {
			return err
		}
		if issued >= plan.GuestPasses.Quantity {
			return fmt.Errorf("%w: %d of %d guest passes used this %s", ErrQuotaExceeded, issued, plan.GuestPasses.Quantity, plan.GuestPasses.Period)
		}
		if _, err := transactionStore.DebitBalance(ctx, hostAccountID, duration); err != nil {
			return err
		}
		invitationID, err := NewInvitationID(uuid.NewString())
		if err != nil {
			return err
		}
		invitation = Invitation{
			InvitationID:     invitationID,
			HostAccountID:    hostAccountID,
			Status:           InvitationStatusActive,
			ServiceID:        serviceID,
			ServiceName:      serviceInfo.Name,
			ReservedDuration: duration,
			CreatedUnixUTC:   service.nowFn().UTC().Unix(),
		}
		return transactionStore.CreateInvitation(ctx, invitation)
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationIssue,
		AccountID:    hostAccountID,
		InvitationID: invitation.InvitationID,
		Minutes:      duration.Minutes(),
		Error:        operationError,
	})
	if operationError != nil {
		return Invitation{}, operationError
	}
	return invitation, nil
}

// CancelInvitation reverses an active invitation: the status swap and the refund
// of the reserved minutes commit together. Used or already-cancelled invitations
// are refused.
func (service *Service) CancelInvitation(ctx context.Context, invitationID InvitationID) error {
	var refunded Minutes
	var hostAccountID AccountID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		invitation, err := transactionStore.GetInvitationForUpdate(ctx, invitationID)
		if err != nil {
			return err
		}
		if invitation.Status != InvitationStatusActive {
			return fmt.Errorf("%w: invitation is %s", ErrInvitationNotActive, invitation.Status)
		}
		hostAccountID = invitation.HostAccountID
		if err := transactionStore.UpdateInvitationStatus(ctx, invitationID, InvitationStatusActive, InvitationStatusCancelled); err != nil {
			return err
		}
		if _, err := transactionStore.CreditBalance(ctx, invitation.HostAccountID, invitation.ReservedDuration); err != nil {
			return err
		}
		refunded = invitation.ReservedDuration.Minutes()
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationCancelInv,
		AccountID:    hostAccountID,
		InvitationID: invitationID,
		Minutes:      refunded,
		Error:        operationError,
	})
	return operationError
}

// GetInvitation loads a single invitation.
func (service *Service) GetInvitation(ctx context.Context, invitationID InvitationID) (Invitation, error) {
	var invitation Invitation
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		loaded, err := transactionStore.GetInvitationForUpdate(ctx, invitationID)
		if err != nil {
			return err
		}
		invitation = loaded
		return nil
	})
	if err != nil {
		return Invitation{}, err
	}
	return invitation, nil
}

// quotaPeriodStart returns the UTC start of the current quota window: the first
// of the month, or the most recent Monday.
func quotaPeriodStart(period QuotaPeriod, now time.Time) time.Time {
	switch period {
	case QuotaPeriodWeek:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		day := now.AddDate(0, 0, -daysSinceMonday)
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
