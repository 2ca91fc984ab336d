package camunda

import (
	"context"
	"time"

	"proposal-workers/internal/models"
)

const ProgressMessageName = "generation-progress"

// ProgressVariables is the payload of a generation-progress message.
type ProgressVariables struct {
	ProposalID     string           `json:"proposalId"`
	Token          string           `json:"generationToken"`
	Status         models.RunStatus `json:"generationStatus"`
	Progress       int              `json:"generationProgress"`
	Answered       int              `json:"answered"`
	Errored        int              `json:"errored"`
	TotalQuestions int              `json:"totalQuestions"`
	PendingSave    bool             `json:"pendingSave"`
}

func NewProgressVariables(run models.GenerationRun) ProgressVariables {
	return ProgressVariables{
		ProposalID:     run.ProposalID,
		Token:          run.Token,
		Status:         run.Status,
		Progress:       run.Progress,
		Answered:       run.Answered,
		Errored:        run.Errored,
		TotalQuestions: run.TotalQuestions,
		PendingSave:    run.PendingSave,
	}
}

// ProgressPublisher publishes run progress as Zeebe messages correlated by
// session id, so a waiting process instance can follow a long run.
type ProgressPublisher struct {
	client *Client
	ttl    time.Duration
}

func NewProgressPublisher(client *Client, ttl time.Duration) *ProgressPublisher {
	return &ProgressPublisher{client: client, ttl: ttl}
}

func (p *ProgressPublisher) Publish(ctx context.Context, correlationKey string, run models.GenerationRun) error {
	vars := NewProgressVariables(run)
	_, err := p.client.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := p.client.client.NewPublishMessageCommand().
			MessageName(ProgressMessageName).
			CorrelationKey(correlationKey).
			TimeToLive(p.ttl).
			VariablesFromObject(vars)
		if err != nil {
			return nil, err
		}
		return cmd.Send(ctx)
	}, "publish "+ProgressMessageName)
	return err
}
