package campaign

import "github.com/ignite/campaign-dispatch/internal/domain"

// transitions is the campaign state machine. Cancelled is reachable only
// before sending starts; a sending campaign goes back to queued when its loop
// is halted or recovered after a crash, never straight to cancelled.
var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:   {domain.CampaignQueued, domain.CampaignCancelled},
	domain.CampaignQueued:  {domain.CampaignSending, domain.CampaignCancelled, domain.CampaignFailed},
	domain.CampaignSending: {domain.CampaignCompleted, domain.CampaignFailed, domain.CampaignQueued},
	domain.CampaignFailed:  {domain.CampaignQueued},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to domain.CampaignStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
