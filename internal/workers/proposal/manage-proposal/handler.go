// Package manageproposal exposes reads and explicit user edits of a proposal
// to BPMN processes. Every write goes through the auto-save queue so it is
// ordered with in-flight answer saves.
package manageproposal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/review"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "manage-proposal"

var (
	ErrInvalidInput   = stderrors.New("INVALID_INPUT")
	ErrNotSubmittable = stderrors.New("NOT_SUBMITTABLE")
)

type Proposals interface {
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
	DeleteProposal(ctx context.Context, id string) error
}

type FieldIndexer interface {
	Index(ctx context.Context) (catalog.FieldIndex, error)
}

type AutoSaver interface {
	review.Committer
	Flush(ctx context.Context, id string) error
	RetryPending(ctx context.Context, id string) error
	Forget(id string)
}

type Handler struct {
	config    *Config
	proposals Proposals
	catalog   FieldIndexer
	autosave  AutoSaver
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, proposals Proposals, catalog FieldIndexer, autosave AutoSaver, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		proposals: proposals,
		catalog:   catalog,
		autosave:  autosave,
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
		h.failJob(client, job, toStandardError(err, input.ProposalID))
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ProposalID == "" {
		return nil, fmt.Errorf("%w: proposalId is required", ErrInvalidInput)
	}

	var (
		p   *models.Proposal
		err error
	)
	switch input.Action {
	case ActionGet:
		p, err = h.get(ctx, input.ProposalID)
	case ActionUpdate:
		if input.Patch == nil || input.Patch.IsEmpty() {
			return nil, fmt.Errorf("%w: update needs a non-empty patch", ErrInvalidInput)
		}
		p, err = h.autosave.Apply(ctx, input.ProposalID, *input.Patch)
	case ActionSubmit:
		p, err = h.submit(ctx, input.ProposalID)
	case ActionReopen:
		p, err = h.reopen(ctx, input.ProposalID)
	case ActionDelete:
		if err := h.proposals.DeleteProposal(ctx, input.ProposalID); err != nil {
			return nil, err
		}
		h.autosave.Forget(input.ProposalID)
		h.logger.Info("proposal deleted", map[string]interface{}{"proposalId": input.ProposalID})
		return &Output{ProposalID: input.ProposalID, Action: input.Action, Deleted: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, input.Action)
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		ProposalID: p.ID,
		Action:     input.Action,
		Status:     string(p.Status),
		Proposal:   p,
	}, nil
}

// get flushes pending answer saves first so the read reflects them.
func (h *Handler) get(ctx context.Context, id string) (*models.Proposal, error) {
	if err := h.autosave.Flush(ctx, id); err != nil {
		h.logger.Warn("pending answers not flushed before read", map[string]interface{}{
			"proposalId": id,
			"error":      err.Error(),
		})
	}
	return h.proposals.GetProposal(ctx, id)
}

// reopen is the explicit edit that returns a proposal to draft. Pending
// answer writes land first so the draft starts from them.
func (h *Handler) reopen(ctx context.Context, id string) (*models.Proposal, error) {
	if err := h.autosave.Flush(ctx, id); err != nil {
		return nil, err
	}
	p, err := h.proposals.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	index, err := h.catalog.Index(ctx)
	if err != nil {
		return nil, err
	}
	return review.New(p, index, h.autosave, h.logger).ReopenDraft(ctx)
}

// submit requires a generated proposal whose answers are all persisted,
// including any left over from an earlier failed write.
func (h *Handler) submit(ctx context.Context, id string) (*models.Proposal, error) {
	if err := h.autosave.RetryPending(ctx, id); err != nil {
		return nil, err
	}
	p, err := h.proposals.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.StatusSubmitted:
		return p, nil
	case models.StatusGenerated:
		return h.autosave.Apply(ctx, id, models.StatusPatch(models.StatusSubmitted))
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotSubmittable, p.Status)
	}
}

func toStandardError(err error, proposalID string) *errors.StandardError {
	switch {
	case stderrors.Is(err, ErrInvalidInput), stderrors.Is(err, ErrNotSubmittable),
		stderrors.Is(err, lifecycle.ErrInvalidStatus):
		return errors.NewValidationFailedError(err.Error())
	case stderrors.Is(err, lifecycle.ErrProposalNotFound):
		return errors.NewProposalNotFoundError(proposalID)
	case stderrors.Is(err, lifecycle.ErrStatusRegression):
		return errors.NewStatusRegressionError(err.Error())
	case stderrors.Is(err, autosave.ErrPersistenceFailed):
		return errors.NewPersistenceFailedError(err)
	case stderrors.Is(err, catalog.ErrCatalogUnavailable):
		return errors.NewCatalogUnavailableError(err)
	default:
		return errors.NewDatabaseUnavailableError(err)
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
