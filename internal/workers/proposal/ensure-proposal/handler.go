package ensureproposal

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

const TaskType = "ensure-proposal"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type ProposalEnsurer interface {
	EnsureProposal(ctx context.Context, sess *session.Session, draft models.ProjectData) (string, error)
}

type Sessions interface {
	Get(id, userID string) *session.Session
}

type Handler struct {
	config    *Config
	proposals ProposalEnsurer
	sessions  Sessions
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, proposals ProposalEnsurer, sessions Sessions, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		proposals: proposals,
		sessions:  sessions,
		errors:    errors.NewErrorHandler(log),
		logger:    log,
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
		h.failJob(client, job, toStandardError(err))
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.SessionID == "" || input.UserID == "" {
		return nil, fmt.Errorf("%w: sessionId and userId are required", ErrInvalidInput)
	}

	sess := h.sessions.Get(input.SessionID, input.UserID)
	id, err := h.proposals.EnsureProposal(ctx, sess, input.Project)
	if err != nil {
		return nil, err
	}

	return &Output{ProposalID: id, SessionID: sess.ID}, nil
}

func toStandardError(err error) *errors.StandardError {
	switch {
	case stderrors.Is(err, ErrInvalidInput):
		return errors.NewValidationFailedError(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewDatabaseUnavailableError(err)
	default:
		return errors.NewPersistenceFailedError(err)
	}
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
