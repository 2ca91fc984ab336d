package exportproposal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/export"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/aggregator"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "export-proposal"

var ErrInvalidInput = stderrors.New("INVALID_INPUT")

type Proposals interface {
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
}

type Flusher interface {
	Flush(ctx context.Context, id string) error
}

type FieldIndexer interface {
	Index(ctx context.Context) (catalog.FieldIndex, error)
}

type Exporter interface {
	ExportToPDF(ctx context.Context, doc export.Document) (*export.Result, error)
}

type Handler struct {
	config    *Config
	proposals Proposals
	autosave  Flusher
	catalog   FieldIndexer
	exporter  Exporter
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, proposals Proposals, autosave Flusher, catalog FieldIndexer, exporter Exporter, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		proposals: proposals,
		autosave:  autosave,
		catalog:   catalog,
		exporter:  exporter,
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

	// answers still waiting in the debounce window belong in the document
	if err := h.autosave.Flush(ctx, input.ProposalID); err != nil {
		return nil, err
	}
	p, err := h.proposals.GetProposal(ctx, input.ProposalID)
	if err != nil {
		return nil, err
	}
	index, err := h.catalog.Index(ctx)
	if err != nil {
		return nil, err
	}

	doc := BuildDocument(p, aggregator.Aggregate(aggregator.Flatten(p.Answers), index, h.logger))
	result, err := h.exporter.ExportToPDF(ctx, doc)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ProposalID:  p.ID,
		DocumentURL: result.DocumentURL,
		FileName:    result.FileName,
		SizeBytes:   result.SizeBytes,
	}
	for _, s := range doc.Sections {
		out.AnswerCount += len(s.Answers)
	}

	h.logger.Info("proposal exported", map[string]interface{}{
		"proposalId":  p.ID,
		"answers":     out.AnswerCount,
		"documentUrl": out.DocumentURL,
	})
	return out, nil
}

// BuildDocument lays grouped answers out in catalog section order. Sections
// without answers are left out.
func BuildDocument(p *models.Proposal, grouped map[string][]aggregator.AnswerRecord) export.Document {
	doc := export.Document{
		ProposalID: p.ID,
		Title:      p.Title,
		Status:     string(p.Status),
		Sections:   []export.Section{},
	}
	for _, info := range catalog.Order {
		records := grouped[info.Key]
		if len(records) == 0 {
			continue
		}
		section := export.Section{Key: info.Key, Title: info.Title, Answers: make([]export.Answer, 0, len(records))}
		for _, rec := range records {
			section.Answers = append(section.Answers, export.Answer{
				QuestionID:     rec.QuestionID,
				Field:          rec.Field,
				Question:       rec.Prompt,
				Text:           rec.Text,
				CharacterCount: rec.CharacterCount,
				CharacterLimit: rec.CharacterLimit,
			})
		}
		doc.Sections = append(doc.Sections, section)
	}
	return doc
}

func toStandardError(err error, proposalID string) *errors.StandardError {
	switch {
	case stderrors.Is(err, ErrInvalidInput):
		return errors.NewValidationFailedError(err.Error())
	case stderrors.Is(err, lifecycle.ErrProposalNotFound):
		return errors.NewProposalNotFoundError(proposalID)
	case stderrors.Is(err, catalog.ErrCatalogUnavailable):
		return errors.NewCatalogUnavailableError(err)
	case stderrors.Is(err, autosave.ErrPersistenceFailed):
		return errors.NewPersistenceFailedError(err)
	default:
		return errors.NewExportFailedError(err)
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
