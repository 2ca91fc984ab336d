// Package cancelgeneration stops the active generation run of a session.
// The running orchestrator observes the cleared token at its next check,
// which may be on another instance when tokens live in redis.
package cancelgeneration

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

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "cancel-generation"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type Sessions interface {
	Get(id, userID string) *session.Session
}

type Handler struct {
	config   *Config
	sessions Sessions
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, sessions Sessions, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
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
		stdErr := errors.NewDatabaseUnavailableError(err)
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
	if input.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	token, err := h.sessions.Get(input.SessionID, input.UserID).Cancel(ctx)
	if err != nil {
		return nil, fmt.Errorf("cancel run: %w", err)
	}
	if token == "" {
		h.logger.Debug("no active run to cancel", map[string]interface{}{"sessionId": input.SessionID})
		return &Output{}, nil
	}

	h.logger.Info("generation run cancelled", map[string]interface{}{
		"sessionId": input.SessionID,
		"token":     token,
	})
	return &Output{Cancelled: true, RunToken: token}, nil
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
