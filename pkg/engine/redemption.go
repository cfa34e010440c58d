package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RedeemOverride optionally replaces the invitation's reserved service or
// duration at the point of delivery. Zero fields keep the reserved values.
type RedeemOverride struct {
	ServiceID ServiceID
	Duration  Duration
}

// RedeemInvitation finalizes an invitation into a completed visit. A positive
// duration delta is debited from the host (checked before any other mutation); a
// negative delta is refunded. The balance delta, the invitation transition, and
// the visit record commit together.
func (service *Service) RedeemInvitation(ctx context.Context, invitationID InvitationID, override RedeemOverride) (Visit, error) {
	var visit Visit
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

		finalServiceID := invitation.ServiceID
		finalServiceName := invitation.ServiceName
		if !override.ServiceID.IsZero() {
			serviceInfo, err := service.services.GetService(ctx, override.ServiceID)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrServiceNotFound, override.ServiceID.String())
			}
			finalServiceID = serviceInfo.ServiceID
			finalServiceName = serviceInfo.Name
		}
		finalDuration := invitation.ReservedDuration
		if override.Duration.Int64() > 0 {
			finalDuration = override.Duration
		}

		delta := finalDuration.Int64() - invitation.ReservedDuration.Int64()
		if delta > 0 {
			upcharge, err := NewDuration(delta)
			if err != nil {
				return err
			}
			if _, err := transactionStore.DebitBalance(ctx, invitation.HostAccountID, upcharge); err != nil {
				return err
			}
		}
		if delta < 0 {
			refund, err := NewDuration(-delta)
			if err != nil {
				return err
			}
			if _, err := transactionStore.CreditBalance(ctx, invitation.HostAccountID, refund); err != nil {
				return err
			}
		}

		usedUnixUTC := service.nowFn().UTC().Unix()
		if err := transactionStore.FinalizeInvitation(ctx, invitationID, finalServiceID, finalDuration, usedUnixUTC); err != nil {
			return err
		}
		visit = Visit{
			VisitID:         uuid.NewString(),
			HostAccountID:   invitation.HostAccountID,
			InvitationID:    invitationID,
			ServiceID:       finalServiceID,
			ServiceName:     finalServiceName,
			DurationMinutes: finalDuration,
			GuestVisit:      true,
			PaymentMethod:   paymentMethodMinutes,
			OccurredUnixUTC: usedUnixUTC,
		}
		return transactionStore.CreateVisit(ctx, visit)
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationRedeem,
		AccountID:    hostAccountID,
		InvitationID: invitationID,
		Minutes:      visit.DurationMinutes.Minutes(),
		Error:        operationError,
	})
	if operationError != nil {
		return Visit{}, operationError
	}
	service.notifyRedemption(ctx, hostAccountID, visit)
	return visit, nil
}

func (service *Service) notifyRedemption(ctx context.Context, accountID AccountID, visit Visit) {
	if service.notifier == nil {
		return
	}
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRedeem,
			AccountID: accountID,
			Status:    operationStatusError,
			Error:     err,
		})
		return
	}
	service.notifier.RedemptionSettled(ctx, account, visit)
}
