package saveanswers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/aggregator"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/review"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "save-answers"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type FieldIndexer interface {
	Index(ctx context.Context) (catalog.FieldIndex, error)
}

type Proposals interface {
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
}

type AutoSaver interface {
	review.Committer
	Save(id string, snapshot models.Answers) *autosave.Pending
	HasPendingChanges(id string) bool
}

type Handler struct {
	config    *Config
	catalog   FieldIndexer
	proposals Proposals
	autosave  AutoSaver
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, catalog FieldIndexer, proposals Proposals, autosave AutoSaver, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		catalog:   catalog,
		proposals: proposals,
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
	if len(input.Answers) == 0 && len(input.Edits) == 0 {
		return nil, fmt.Errorf("%w: answers or edits are required", ErrInvalidInput)
	}
	if len(input.Answers) > 0 && len(input.Edits) > 0 {
		return nil, fmt.Errorf("%w: answers and edits cannot be combined", ErrInvalidInput)
	}

	index, err := h.catalog.Index(ctx)
	if err != nil {
		return nil, err
	}

	var out *Output
	if len(input.Edits) > 0 {
		out, err = h.saveEdits(ctx, input, index)
	} else {
		out, err = h.saveAnswers(ctx, input, index)
	}
	if err != nil {
		return nil, err
	}
	out.PendingSave = h.autosave.HasPendingChanges(input.ProposalID)
	return out, nil
}

func (h *Handler) saveAnswers(ctx context.Context, input *Input, index catalog.FieldIndex) (*Output, error) {
	answers := aggregator.Regroup(input.Answers, index, h.logger)

	out := &Output{
		ProposalID: input.ProposalID,
		Mode:       ModeImmediate,
		Saved:      answers.Count(),
		Sections:   make(map[string]int, len(answers)),
	}
	for section, fields := range answers {
		out.Sections[section] = len(fields)
	}

	if input.Autosave {
		out.Mode = ModeAutosave
		return out, h.autosave.Save(input.ProposalID, answers).Wait(ctx)
	}
	return out, h.autosave.SaveNow(ctx, input.ProposalID, answers)
}

// saveEdits replays the edits through a review buffer over the stored
// proposal. Switching fields within a section commits the earlier edit first.
func (h *Handler) saveEdits(ctx context.Context, input *Input, index catalog.FieldIndex) (*Output, error) {
	p, err := h.proposals.GetProposal(ctx, input.ProposalID)
	if err != nil {
		return nil, err
	}
	state := review.New(p, index, h.autosave, h.logger)

	out := &Output{
		ProposalID: input.ProposalID,
		Mode:       ModeReview,
		Sections:   map[string]int{},
	}
	for _, edit := range input.Edits {
		err := state.BeginEdit(edit.Section, edit.Field)
		if stderrors.Is(err, review.ErrEditInProgress) {
			if err := state.Save(ctx); err != nil {
				return nil, err
			}
			err = state.BeginEdit(edit.Section, edit.Field)
		}
		if err != nil {
			return nil, err
		}
		if err := state.Edit(edit.Field, edit.Text); err != nil {
			return nil, err
		}
		out.Saved++
		out.Sections[edit.Section]++
	}
	if err := state.Save(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func toStandardError(err error, proposalID string) *errors.StandardError {
	switch {
	case stderrors.Is(err, ErrInvalidInput), stderrors.Is(err, review.ErrUnknownField):
		return errors.NewValidationFailedError(err.Error())
	case stderrors.Is(err, lifecycle.ErrProposalNotFound):
		return errors.NewProposalNotFoundError(proposalID)
	case stderrors.Is(err, catalog.ErrCatalogUnavailable):
		return errors.NewCatalogUnavailableError(err)
	case stderrors.Is(err, autosave.ErrPersistenceFailed):
		return errors.NewPersistenceFailedError(err)
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
