// Package notifygeneration tells the user by email (SES) and, for urgent
// cases, SMS (SNS) that a generation run has ended.
package notifygeneration

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	awsclient "proposal-workers/internal/common/aws"
	"proposal-workers/internal/common/errors"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/common/validation"
	"proposal-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const TaskType = "notify-generation"

var (
	ErrInvalidInput           = stderrors.New("INVALID_INPUT")
	ErrNotificationSendFailed = stderrors.New("NOTIFICATION_SEND_FAILED")
)

// sendError records which channel failed.
type sendError struct {
	channel string
	err     error
}

func (e *sendError) Error() string { return fmt.Sprintf("send %s: %v", e.channel, e.err) }
func (e *sendError) Unwrap() error { return ErrNotificationSendFailed }

type Handler struct {
	config    *Config
	sesClient awsclient.SESService
	snsClient awsclient.SNSService
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, sesClient awsclient.SESService, snsClient awsclient.SNSService, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		sesClient: sesClient,
		snsClient: snsClient,
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
	if input.ProposalID == "" {
		return nil, fmt.Errorf("%w: proposalId is required", ErrInvalidInput)
	}
	tmpl, ok := templates[input.RunStatus]
	if !ok {
		return nil, fmt.Errorf("%w: no notification for run status %q", ErrInvalidInput, input.RunStatus)
	}
	if input.RecipientEmail != "" && !validation.ValidateEmail(input.RecipientEmail) {
		return nil, fmt.Errorf("%w: invalid recipientEmail", ErrInvalidInput)
	}

	title := input.ProposalTitle
	if title == "" {
		title = "your proposal"
	}
	data := map[string]string{
		"proposalId":     input.ProposalID,
		"proposalTitle":  title,
		"answered":       strconv.Itoa(input.Answered),
		"errored":        strconv.Itoa(input.Errored),
		"totalQuestions": strconv.Itoa(input.TotalQuestions),
		"runError":       input.RunError,
	}

	out := &Output{
		NotificationID: uuid.New().String(),
		Status:         StatusDisabled,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.config.EmailEnabled && input.RecipientEmail != "" {
		req := awsclient.EmailInput(h.config.FromEmail, input.RecipientEmail, render(tmpl.subject, data), render(tmpl.body, data))
		if _, err := h.sesClient.SendEmail(ctx, req); err != nil {
			return nil, &sendError{channel: ChannelEmail, err: err}
		}
		out.Channels = append(out.Channels, ChannelEmail)
	}

	// SMS only for urgent notifications: high priority or a failed run
	urgent := input.Priority == PriorityHigh || input.RunStatus == models.RunFailed
	if h.config.SMSEnabled && input.RecipientPhone != "" && urgent {
		req := awsclient.SMSInput(input.RecipientPhone, render(tmpl.sms, data), h.config.SMSSenderID)
		if _, err := h.snsClient.Publish(ctx, req); err != nil {
			return nil, &sendError{channel: ChannelSMS, err: err}
		}
		out.Channels = append(out.Channels, ChannelSMS)
	}

	if len(out.Channels) > 0 {
		out.Status = StatusSent
	}
	h.logger.Info("generation notification processed", map[string]interface{}{
		"proposalId": input.ProposalID,
		"runStatus":  string(input.RunStatus),
		"status":     out.Status,
		"channels":   out.Channels,
	})
	return out, nil
}

func toStandardError(err error) *errors.StandardError {
	var se *sendError
	switch {
	case stderrors.As(err, &se):
		return errors.NewNotificationFailedError(se.channel, se.err)
	case stderrors.Is(err, ErrInvalidInput):
		return errors.NewValidationFailedError(err.Error())
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
