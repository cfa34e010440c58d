package engine

const (
	operationApply       = "apply"
	operationReconcile   = "reconcile"
	operationChangePlan  = "change_plan"
	operationCancelSub   = "cancel_subscription"
	operationIssue       = "issue_invitation"
	operationCancelInv   = "cancel_invitation"
	operationRedeem      = "redeem_invitation"
	operationRewardGrant = "reward_grant"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	invoiceStatusPaid = "paid"

	paymentMethodMinutes = "minutes"
)
