package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
)

const signupSeriesWindowDays = 30

// PartnerStats derives affiliate performance from the ledger and the user graph.
// Pure aggregation: no balance mutation happens here.
func (service *Service) PartnerStats(ctx context.Context, accountID AccountID) (PartnerStats, error) {
	account, err := service.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return PartnerStats{}, err
	}
	if account.ReferralCode == "" {
		return PartnerStats{}, fmt.Errorf("%w: account %s has no referral code", ErrNotAffiliate, accountID.String())
	}
	referred, err := service.store.ListReferredAccounts(ctx, account.ReferralCode)
	if err != nil {
		return PartnerStats{}, err
	}
	rewardTotal, err := service.store.SumRewardMinutes(ctx, accountID)
	if err != nil {
		return PartnerStats{}, err
	}
	rows, err := service.store.ListReferralRows(ctx, account.ReferralCode)
	if err != nil {
		return PartnerStats{}, err
	}
	return PartnerStats{
		ReferralCode:  account.ReferralCode,
		ReferredCount: len(referred),
		ActiveSubscribers: lo.CountBy(referred, func(candidate Account) bool {
			return candidate.SubscriptionStatus == SubscriptionStatusActive
		}),
		RewardMinutesTotal: rewardTotal,
		SignupSeries:       signupSeries(referred, service.nowFn().UTC()),
		Tree:               buildReferralTree(rows, account.ReferralCode),
	}, nil
}

// GrantReferralReward credits reward minutes to an affiliate through the same
// idempotent Apply path as payments, so a re-driven reward event never
// double-credits and the grant shows up in the aggregator's totals.
func (service *Service) GrantReferralReward(ctx context.Context, affiliateAccountID AccountID, referenceID ReferenceID, minutes Duration, description string) (ApplyOutcome, error) {
	outcome, err := service.Apply(ctx, referenceID, affiliateAccountID, EntitlementGrant{
		Kind:         GrantReferralReward,
		MinutesToAdd: minutes.Minutes(),
		Description:  description,
	}, InvoiceMetadata{Description: description})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRewardGrant,
		AccountID:   affiliateAccountID,
		ReferenceID: referenceID,
		Minutes:     minutes.Minutes(),
		Error:       err,
	})
	return outcome, err
}

// signupSeries buckets referred-account signups by UTC day over the trailing window.
func signupSeries(referred []Account, now time.Time) []SignupBucket {
	windowStart := now.AddDate(0, 0, -signupSeriesWindowDays+1)
	windowStart = time.Date(windowStart.Year(), windowStart.Month(), windowStart.Day(), 0, 0, 0, 0, time.UTC)
	perDay := lo.CountValuesBy(referred, func(candidate Account) string {
		return time.Unix(candidate.CreatedUnixUTC, 0).UTC().Format(time.DateOnly)
	})
	buckets := make([]SignupBucket, 0, signupSeriesWindowDays)
	for day := windowStart; !day.After(now); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		buckets = append(buckets, SignupBucket{Day: key, Signups: perDay[key]})
	}
	return buckets
}

// buildReferralTree nests the flat referral rows by grouping children under
// their parent id, starting from rows referred directly by the root code.
func buildReferralTree(rows []ReferralRow, rootCode string) []ReferralNode {
	children := lo.GroupBy(rows, func(row ReferralRow) string {
		return row.ReferredBy
	})
	return attachChildren(children, rootCode)
}

func attachChildren(children map[string][]ReferralRow, parent string) []ReferralNode {
	nodes := make([]ReferralNode, 0, len(children[parent]))
	for _, row := range children[parent] {
		nodes = append(nodes, ReferralNode{
			ID:       row.ID,
			Level:    row.Level,
			Children: attachChildren(children, row.ID),
		})
	}
	return nodes
}
