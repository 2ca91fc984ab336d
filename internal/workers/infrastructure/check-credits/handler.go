package checkcredits

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "check-credits"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type CreditService interface {
	GetSubscriptionStatus(ctx context.Context, userID string) (models.CreditState, error)
}

type Sessions interface {
	Get(id, userID string) *session.Session
}

type Handler struct {
	config   *Config
	credits  CreditService
	sessions Sessions
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, credits CreditService, sessions Sessions, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		credits:  credits,
		sessions: sessions,
		errors:   errors.NewErrorHandler(log),
		logger:   log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, errors.NewInputParsingError(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		stdErr := errors.NewCreditCheckFailedError(err)
		if stderrors.Is(err, ErrInvalidInput) {
			stdErr = errors.NewValidationFailedError(err.Error())
		}
		h.failJob(client, job, stdErr)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	state, err := h.credits.GetSubscriptionStatus(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if input.SessionID != "" && h.sessions != nil {
		h.sessions.Get(input.SessionID, input.UserID).SetCredits(state)
	}

	if !state.CanGenerate() {
		h.logger.Info("user cannot start a generation run", map[string]interface{}{
			"userId":             input.UserID,
			"hasSubscription":    state.HasSubscription,
			"proposalsRemaining": state.ProposalsRemaining,
		})
	}

	return &Output{
		HasSubscription:    state.HasSubscription,
		ProposalsRemaining: state.ProposalsRemaining,
		ProposalsLimit:     state.ProposalsLimit,
		CanGenerate:        state.CanGenerate(),
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, stdErr *errors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errors.HandleJobError(context.Background(), client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
