package domain

// Progress is the live view of a campaign derived from its ledger.
type Progress struct {
	CampaignID  string         `json:"campaign_id"`
	Status      CampaignStatus `json:"status"`
	Total       int            `json:"total"`
	Sent        int            `json:"sent"`
	Failed      int            `json:"failed"`
	Pending     int            `json:"pending"`
	Percentage  float64        `json:"percentage"`
	SuccessRate float64        `json:"success_rate"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// EstimatedRemainingSeconds is only set while the campaign is sending
	// and at least one recipient has been processed.
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
}
