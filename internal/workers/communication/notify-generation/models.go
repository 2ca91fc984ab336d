package notifygeneration

import "proposal-workers/internal/models"

type Input struct {
	ProposalID     string           `json:"proposalId"`
	ProposalTitle  string           `json:"proposalTitle,omitempty"`
	RunStatus      models.RunStatus `json:"runStatus"`
	Answered       int              `json:"answered"`
	Errored        int              `json:"errored"`
	TotalQuestions int              `json:"totalQuestions"`
	RunError       string           `json:"runError,omitempty"`
	RecipientEmail string           `json:"recipientEmail,omitempty"`
	RecipientPhone string           `json:"recipientPhone,omitempty"`
	Priority       string           `json:"priority,omitempty"`
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Status         string   `json:"notificationStatus"`
	Channels       []string `json:"channels,omitempty"`
	SentAt         string   `json:"sentAt"`
}

const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const PriorityHigh = "high"
