package generateapplication

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/genai"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/credits"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/orchestrator"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "generate-application"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type Runner interface {
	Run(ctx context.Context, sess *session.Session, req orchestrator.Request, progress orchestrator.ProgressFunc) (*models.GenerationRun, error)
}

// ProgressPublisher forwards run snapshots to the workflow engine.
type ProgressPublisher interface {
	Publish(ctx context.Context, correlationKey string, run models.GenerationRun) error
}

type Sessions interface {
	Get(id, userID string) *session.Session
}

// RunRecorder observes finished runs.
type RunRecorder interface {
	RecordRunEnd(ctx context.Context, mode, status string, progress int)
}

type Handler struct {
	config    *Config
	runner    Runner
	sessions  Sessions
	publisher ProgressPublisher
	recorder  RunRecorder
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

// NewHandler builds the handler. publisher may be nil.
func NewHandler(config *Config, runner Runner, sessions Sessions, publisher ProgressPublisher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	if !config.PublishProgress {
		publisher = nil
	}
	return &Handler{
		config:    config,
		runner:    runner,
		sessions:  sessions,
		publisher: publisher,
		errors:    errors.NewErrorHandler(log),
		logger:    log,
	}
}

// WithRecorder attaches a recorder for run outcomes.
func (h *Handler) WithRecorder(r RunRecorder) *Handler {
	h.recorder = r
	return h
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
		h.failJob(client, job, toStandardError(err, &input))
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
	if input.ProposalID != "" && sess.ProposalID() == "" {
		sess.SetProposalID(input.ProposalID)
	}

	run, err := h.runner.Run(ctx, sess, orchestrator.Request{
		Project: input.Project,
		Mode:    input.Mode,
	}, h.progressFunc(ctx, input.SessionID))
	if run != nil && h.recorder != nil {
		h.recorder.RecordRunEnd(ctx, string(run.Mode), string(run.Status), run.Progress)
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("generation run finished", map[string]interface{}{
		"proposalId": run.ProposalID,
		"runStatus":  string(run.Status),
		"answered":   run.Answered,
		"errored":    run.Errored,
	})
	return newOutput(run), nil
}

// progressFunc publishes a message whenever the run status or the number of
// settled questions changes.
func (h *Handler) progressFunc(ctx context.Context, correlationKey string) orchestrator.ProgressFunc {
	if h.publisher == nil {
		return nil
	}
	var (
		lastStatus  models.RunStatus
		lastSettled = -1
	)
	return func(run models.GenerationRun) {
		settled := run.Answered + run.Errored
		if run.Status == lastStatus && settled == lastSettled {
			return
		}
		lastStatus, lastSettled = run.Status, settled

		if err := h.publisher.Publish(ctx, correlationKey, run); err != nil {
			h.logger.Warn("progress message not published", map[string]interface{}{
				"sessionId": correlationKey,
				"runStatus": string(run.Status),
				"error":     err.Error(),
			})
		}
	}
}

func toStandardError(err error, input *Input) *errors.StandardError {
	switch {
	case stderrors.Is(err, orchestrator.ErrCreditExhausted):
		return errors.NewCreditExhaustedError(input.UserID, 0).WithMetadata("proposalId", input.ProposalID)
	case stderrors.Is(err, orchestrator.ErrValidationFailed), stderrors.Is(err, ErrInvalidInput):
		return errors.NewValidationFailedError(err.Error())
	case stderrors.Is(err, credits.ErrCreditCheckFailed):
		return errors.NewCreditCheckFailedError(err)
	case stderrors.Is(err, catalog.ErrCatalogUnavailable), stderrors.Is(err, catalog.ErrDuplicateField):
		return errors.NewCatalogUnavailableError(err)
	case stderrors.Is(err, lifecycle.ErrProposalNotFound):
		return errors.NewProposalNotFoundError(input.ProposalID)
	case stderrors.Is(err, autosave.ErrPersistenceFailed):
		return errors.NewPersistenceFailedError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewGenerationTimeoutError(err)
	case stderrors.Is(err, genai.ErrGenerationCallFailed):
		return errors.NewGenerationFailedError(err)
	default:
		return errors.NewInternalError(err)
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
