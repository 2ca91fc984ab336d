package getsectionquestions

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "get-section-questions"

type Catalog interface {
	GetSectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error)
	Sections(ctx context.Context) ([]models.Section, error)
}

type Handler struct {
	config  *Config
	catalog Catalog
	errors  *errors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, catalog Catalog, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		catalog: catalog,
		errors:  errors.NewErrorHandler(log),
		logger:  log,
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
		stdErr := errors.NewCatalogUnavailableError(err)
		if stderrors.Is(err, catalog.ErrUnknownSection) {
			stdErr = errors.NewUnknownSectionError(input.SectionKey)
		}
		h.failJob(client, job, stdErr)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	var sections []models.Section
	if input.SectionKey == "" {
		all, err := h.catalog.Sections(ctx)
		if err != nil {
			return nil, err
		}
		sections = all
	} else {
		questions, err := h.catalog.GetSectionQuestions(ctx, input.SectionKey)
		if err != nil {
			return nil, err
		}
		sections = []models.Section{{
			Key:       input.SectionKey,
			Title:     catalog.Title(input.SectionKey),
			Questions: questions,
		}}
	}

	out := &Output{Sections: sections}
	for _, s := range sections {
		out.QuestionCount += len(s.Questions)
	}
	return out, nil
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
