// Package orchestrator drives one generation run from credit check to the
// final status change.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/genai"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/core/aggregator"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrCreditExhausted  = errors.New("CREDIT_EXHAUSTED")
	ErrValidationFailed = errors.New("VALIDATION_FAILED")
)

var tracer = otel.Tracer("orchestrator")

type ProposalEnsurer interface {
	EnsureProposal(ctx context.Context, sess *session.Session, draft models.ProjectData) (string, error)
}

type CreditService interface {
	GetSubscriptionStatus(ctx context.Context, userID string) (models.CreditState, error)
	ConsumeCredit(ctx context.Context, userID, proposalID, runToken string) (bool, error)
}

type QuestionCatalog interface {
	Sections(ctx context.Context) ([]models.Section, error)
	Index(ctx context.Context) (catalog.FieldIndex, error)
}

type Generator interface {
	GenerateSingleAnswer(ctx context.Context, req genai.AnswerRequest) (*genai.AnswerResponse, error)
	GenerateFullApplication(ctx context.Context, project models.ProjectData) (*genai.ApplicationResponse, error)
}

// AutoSaver is the single write path to the proposal while a run is active.
type AutoSaver interface {
	SaveNow(ctx context.Context, id string, snapshot models.Answers) error
	Flush(ctx context.Context, id string) error
	Apply(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error)
	Unsaved(id string) bool
}

type Config struct {
	DefaultMode models.GenerationMode
	// RetryBackoff holds the wait before each extra attempt; its length is
	// the number of retries per question.
	RetryBackoff      []time.Duration
	ChargePartialRuns bool
}

func DefaultConfig() Config {
	return Config{
		DefaultMode:       models.ModeProgressive,
		RetryBackoff:      []time.Duration{time.Second, 2 * time.Second},
		ChargePartialRuns: true,
	}
}

type Deps struct {
	Proposals ProposalEnsurer
	Credits   CreditService
	Catalog   QuestionCatalog
	Generator Generator
	AutoSave  AutoSaver
}

type Request struct {
	Project models.ProjectData    `json:"project"`
	Mode    models.GenerationMode `json:"mode,omitempty"`
}

// ProgressFunc observes a run. It receives a copy and is called from the
// run's goroutine, so it must not block for long.
type ProgressFunc func(run models.GenerationRun)

type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger logger.Logger
}

func New(cfg Config, deps Deps, log logger.Logger) *Orchestrator {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = models.ModeProgressive
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// runState is the mutable state of one Run call.
type runState struct {
	run      *models.GenerationRun
	sess     *session.Session
	project  models.ProjectData
	answers  models.Answers
	progress ProgressFunc
	log      logger.Logger
}

func (s *runState) publish() {
	if s.progress == nil {
		return
	}
	cp := *s.run
	cp.Questions = append([]models.QuestionResult(nil), s.run.Questions...)
	cp.Answers = s.answers.Clone()
	s.progress(cp)
}

func (s *runState) setStatus(status models.RunStatus) {
	s.run.Status = status
	s.publish()
}

func (s *runState) recompute() {
	answered, errored := 0, 0
	for _, q := range s.run.Questions {
		switch q.Outcome {
		case models.OutcomeOK:
			answered++
		case models.OutcomeErrored:
			errored++
		}
	}
	s.run.Answered = answered
	s.run.Errored = errored
	if s.run.TotalQuestions > 0 {
		s.run.Progress = (answered + errored) * 100 / s.run.TotalQuestions
	}
}

// Run executes one generation run for sess. The returned run is never nil.
// A non-nil error means the run Failed; Completed and Cancelled runs return
// a nil error.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, req Request, progress ProgressFunc) (*models.GenerationRun, error) {
	mode := req.Mode
	if mode == "" {
		mode = o.cfg.DefaultMode
	}

	st := &runState{
		run: &models.GenerationRun{
			Mode:      mode,
			Status:    models.RunIdle,
			StartedAt: time.Now().UTC(),
		},
		sess:     sess,
		project:  req.Project,
		answers:  models.Answers{},
		progress: progress,
		log:      o.logger.WithFields(map[string]interface{}{"sessionId": sess.ID, "mode": string(mode)}),
	}

	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("generation.mode", string(mode)),
	))
	defer span.End()

	err := o.run(ctx, st)

	st.run.FinishedAt = time.Now().UTC()
	st.run.Answers = st.answers
	span.SetAttributes(
		attribute.String("run.status", string(st.run.Status)),
		attribute.Int("run.answered", st.run.Answered),
		attribute.Int("run.errored", st.run.Errored),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return st.run, err
}

func (o *Orchestrator) run(ctx context.Context, st *runState) error {
	if !st.run.Mode.Valid() {
		return o.fail(st, fmt.Errorf("%w: unknown mode %q", ErrValidationFailed, st.run.Mode))
	}
	if err := ValidateProject(st.project); err != nil {
		return o.fail(st, err)
	}

	proposalID, err := o.deps.Proposals.EnsureProposal(ctx, st.sess, st.project)
	if err != nil {
		return o.fail(st, fmt.Errorf("ensure proposal: %w", err))
	}
	st.run.ProposalID = proposalID
	st.log = st.log.WithFields(map[string]interface{}{"proposalId": proposalID})

	st.setStatus(models.RunCheckingCredits)
	credits, err := o.credits(ctx, st.sess)
	if err != nil {
		return o.fail(st, err)
	}
	if !credits.CanGenerate() {
		return o.fail(st, fmt.Errorf("%w: subscription=%t remaining=%d",
			ErrCreditExhausted, credits.HasSubscription, credits.ProposalsRemaining))
	}

	sections, err := o.deps.Catalog.Sections(ctx)
	if err != nil {
		return o.fail(st, err)
	}
	for _, sec := range sections {
		for _, q := range sec.RequiredQuestions() {
			st.run.Questions = append(st.run.Questions, models.QuestionResult{
				Section:    sec.Key,
				QuestionID: q.ID,
				Field:      q.Field,
				Outcome:    models.OutcomePending,
			})
		}
	}
	st.run.TotalQuestions = len(st.run.Questions)

	token, err := st.sess.BeginRun(ctx)
	if err != nil {
		return o.fail(st, err)
	}
	st.run.Token = token
	st.log = st.log.WithFields(map[string]interface{}{"token": token})

	if _, err := o.deps.AutoSave.Apply(ctx, proposalID, models.StatusPatch(models.StatusGenerating)); err != nil &&
		!errors.Is(err, lifecycle.ErrStatusRegression) {
		_ = st.sess.EndRun(context.WithoutCancel(ctx), token)
		return o.fail(st, fmt.Errorf("%w: %v", autosave.ErrPersistenceFailed, err))
	}

	st.setStatus(models.RunRunning)
	st.log.Info("generation run started", map[string]interface{}{"questions": st.run.TotalQuestions})

	var stop session.TokenState
	if st.run.Mode == models.ModeBulk {
		stop, err = o.runBulk(ctx, st)
	} else {
		stop, err = o.runProgressive(ctx, st, sections)
	}
	if err != nil {
		return o.abort(ctx, st, err)
	}

	if stop == "" {
		if stop, err = st.sess.TokenState(ctx, token); err != nil {
			return o.abort(ctx, st, err)
		}
	}
	switch stop {
	case session.TokenCancelled:
		return o.finishCancelled(ctx, st)
	case session.TokenSuperseded:
		return o.finishSuperseded(st)
	}
	return o.finishCompleted(ctx, st)
}

func (o *Orchestrator) credits(ctx context.Context, sess *session.Session) (models.CreditState, error) {
	if c, ok := sess.Credits(); ok {
		return c, nil
	}
	c, err := o.deps.Credits.GetSubscriptionStatus(ctx, sess.UserID)
	if err != nil {
		return models.CreditState{}, err
	}
	sess.SetCredits(c)
	return c, nil
}

// runProgressive asks every required question in catalog order, one call at
// a time. It returns a non-empty token state when the run was stopped by a
// cancel or a newer run.
func (o *Orchestrator) runProgressive(ctx context.Context, st *runState, sections []models.Section) (session.TokenState, error) {
	generated := map[string]string{}
	i := 0

	for _, sec := range sections {
		for _, q := range sec.RequiredQuestions() {
			res := &st.run.Questions[i]
			i++

			state, err := st.sess.TokenState(ctx, st.run.Token)
			if err != nil {
				return "", err
			}
			if state != session.TokenActive {
				return state, nil
			}

			text, stopped, err := o.ask(ctx, st, res, genai.AnswerRequest{
				ProposalID:        st.run.ProposalID,
				Section:           sec.Key,
				QuestionID:        q.ID,
				QuestionField:     q.Field,
				Question:          q.Prompt,
				CharacterLimit:    q.CharacterLimit,
				AdditionalContext: copyContext(generated),
				ProjectContext:    st.project,
			})
			if err != nil {
				return "", err
			}
			if stopped != "" {
				return stopped, nil
			}

			// the call has settled; its result only counts for the active run
			state, err = st.sess.TokenState(ctx, st.run.Token)
			if err != nil {
				return "", err
			}
			if state != session.TokenActive {
				metrics.GenerationStaleResults.Inc()
				st.log.Debug("discarding result settled after token change", map[string]interface{}{
					"field": q.Field,
					"state": string(state),
				})
				res.Outcome = models.OutcomePending
				return state, nil
			}

			if res.Outcome == models.OutcomeOK {
				st.answers.Set(sec.Key, models.NewAnswer(q.ID, q.Field, text))
				generated[q.Field] = text
			}
			st.recompute()
			st.publish()
		}

		o.checkpoint(ctx, st, sec.Key)
	}
	return "", nil
}

// ask runs one question through the retry schedule and records the outcome
// on res. An exhausted question is not an error; err is reserved for
// failures that end the run.
func (o *Orchestrator) ask(ctx context.Context, st *runState, res *models.QuestionResult, req genai.AnswerRequest) (string, session.TokenState, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.question", trace.WithAttributes(
		attribute.String("question.section", req.Section),
		attribute.String("question.field", req.QuestionField),
	))
	defer span.End()

	attempts := len(o.cfg.RetryBackoff) + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, o.cfg.RetryBackoff[attempt-2]); err != nil {
				return "", "", err
			}
			state, err := st.sess.TokenState(ctx, st.run.Token)
			if err != nil {
				return "", "", err
			}
			if state != session.TokenActive {
				return "", state, nil
			}
		}

		res.Attempts = attempt
		resp, err := o.deps.Generator.GenerateSingleAnswer(ctx, req)
		if err == nil {
			metrics.GenerationQuestionAttempts.WithLabelValues("ok").Inc()
			res.Outcome = models.OutcomeOK
			res.Error = ""
			span.SetAttributes(attribute.Int("question.attempts", attempt))
			return resp.Answer, "", nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		lastErr = err
		res.TransientFailures++
		metrics.GenerationQuestionAttempts.WithLabelValues("failed").Inc()
		st.log.Warn("generation attempt failed", map[string]interface{}{
			"section": req.Section,
			"field":   req.QuestionField,
			"attempt": attempt,
			"of":      attempts,
			"error":   err.Error(),
		})
	}

	res.Outcome = models.OutcomeErrored
	res.Error = lastErr.Error()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "attempts exhausted")
	return "", "", nil
}

// runBulk issues the whole-application call under the same retry schedule
// and regroups the result by field.
func (o *Orchestrator) runBulk(ctx context.Context, st *runState) (session.TokenState, error) {
	attempts := len(o.cfg.RetryBackoff) + 1
	var (
		resp    *genai.ApplicationResponse
		lastErr error
		used    int
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		used = attempt
		if attempt > 1 {
			if err := sleep(ctx, o.cfg.RetryBackoff[attempt-2]); err != nil {
				return "", err
			}
		}
		state, err := st.sess.TokenState(ctx, st.run.Token)
		if err != nil {
			return "", err
		}
		if state != session.TokenActive {
			return state, nil
		}

		resp, lastErr = o.deps.Generator.GenerateFullApplication(ctx, st.project)
		if lastErr == nil {
			metrics.GenerationQuestionAttempts.WithLabelValues("ok").Inc()
			break
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		metrics.GenerationQuestionAttempts.WithLabelValues("failed").Inc()
		st.log.Warn("bulk generation attempt failed", map[string]interface{}{
			"attempt": attempt,
			"of":      attempts,
			"error":   lastErr.Error(),
		})
	}
	if lastErr != nil {
		return "", lastErr
	}

	state, err := st.sess.TokenState(ctx, st.run.Token)
	if err != nil {
		return "", err
	}
	if state != session.TokenActive {
		metrics.GenerationStaleResults.Inc()
		return state, nil
	}

	index, err := o.deps.Catalog.Index(ctx)
	if err != nil {
		return "", err
	}

	flat := map[string]models.Answer{}
	for field, text := range resp.Flat() {
		if text == "" {
			continue
		}
		flat[field] = models.NewAnswer("", field, text)
	}
	st.answers = aggregator.Regroup(flat, index, st.log)

	for i := range st.run.Questions {
		res := &st.run.Questions[i]
		res.Attempts = used
		if _, ok := flat[res.Field]; ok {
			res.Outcome = models.OutcomeOK
		} else {
			res.Outcome = models.OutcomeErrored
			res.Error = "missing from bulk response"
		}
	}
	st.recompute()
	st.publish()

	o.checkpoint(ctx, st, "")
	return "", nil
}

// checkpoint hands the cumulative answers to auto-save. Failures are kept by
// the coordinator and folded into the next checkpoint.
func (o *Orchestrator) checkpoint(ctx context.Context, st *runState, section string) {
	err := o.deps.AutoSave.SaveNow(ctx, st.run.ProposalID, st.answers)
	st.run.PendingSave = o.deps.AutoSave.Unsaved(st.run.ProposalID)
	if err != nil {
		st.log.Warn("checkpoint save failed, continuing", map[string]interface{}{
			"section": section,
			"answers": st.answers.Count(),
			"error":   err.Error(),
		})
	}
}

func (o *Orchestrator) finishCompleted(ctx context.Context, st *runState) error {
	id := st.run.ProposalID

	if err := o.deps.AutoSave.Flush(ctx, id); err != nil {
		st.log.Warn("final flush failed", map[string]interface{}{"error": err.Error()})
	}
	st.run.PendingSave = o.deps.AutoSave.Unsaved(id)

	if _, err := o.deps.AutoSave.Apply(ctx, id, models.StatusPatch(models.StatusGenerated)); err != nil &&
		!errors.Is(err, lifecycle.ErrStatusRegression) {
		st.run.Error = fmt.Sprintf("status update failed: %v", err)
		st.log.Warn("could not mark proposal generated", map[string]interface{}{"error": err.Error()})
	}

	if st.run.Errored == 0 || o.cfg.ChargePartialRuns {
		consumed, err := o.deps.Credits.ConsumeCredit(ctx, st.sess.UserID, id, st.run.Token)
		if err != nil {
			st.log.Error("credit consumption failed", map[string]interface{}{"error": err.Error()})
		}
		st.run.CreditConsumed = consumed
	}
	st.sess.InvalidateCredits()

	if err := st.sess.EndRun(ctx, st.run.Token); err != nil {
		st.log.Warn("failed to release generation token", map[string]interface{}{"error": err.Error()})
	}

	st.run.Progress = 100
	st.setStatus(models.RunCompleted)
	metrics.GenerationRuns.WithLabelValues(string(st.run.Mode), "completed").Inc()
	st.log.Info("generation run completed", map[string]interface{}{
		"answered":       st.run.Answered,
		"errored":        st.run.Errored,
		"pendingSave":    st.run.PendingSave,
		"creditConsumed": st.run.CreditConsumed,
	})
	return nil
}

// finishCancelled persists exactly the answers settled before the cancel and
// leaves the proposal status alone.
func (o *Orchestrator) finishCancelled(ctx context.Context, st *runState) error {
	id := st.run.ProposalID
	if err := o.deps.AutoSave.SaveNow(ctx, id, st.answers); err != nil {
		st.log.Warn("saving cancelled run answers failed", map[string]interface{}{"error": err.Error()})
	}
	st.run.PendingSave = o.deps.AutoSave.Unsaved(id)
	st.recompute()

	st.setStatus(models.RunCancelled)
	metrics.GenerationRuns.WithLabelValues(string(st.run.Mode), "cancelled").Inc()
	st.log.Info("generation run cancelled", map[string]interface{}{"answered": st.run.Answered})
	return nil
}

// finishSuperseded writes nothing: a newer run owns the proposal now.
func (o *Orchestrator) finishSuperseded(st *runState) error {
	st.recompute()
	st.run.Error = "superseded by a newer run"
	st.setStatus(models.RunCancelled)
	metrics.GenerationRuns.WithLabelValues(string(st.run.Mode), "superseded").Inc()
	st.log.Info("generation run superseded", map[string]interface{}{"answered": st.run.Answered})
	return nil
}

// abort ends a started run that hit a fatal error. Settled answers are still
// persisted when the run's token is active.
func (o *Orchestrator) abort(ctx context.Context, st *runState, cause error) error {
	bg := context.WithoutCancel(ctx)
	if state, err := st.sess.TokenState(bg, st.run.Token); err == nil && state == session.TokenActive {
		if err := o.deps.AutoSave.SaveNow(bg, st.run.ProposalID, st.answers); err != nil {
			st.log.Warn("saving aborted run answers failed", map[string]interface{}{"error": err.Error()})
		}
		st.run.PendingSave = o.deps.AutoSave.Unsaved(st.run.ProposalID)
		_ = st.sess.EndRun(bg, st.run.Token)
	}
	st.recompute()
	return o.fail(st, cause)
}

func (o *Orchestrator) fail(st *runState, err error) error {
	st.run.Error = err.Error()
	st.setStatus(models.RunFailed)
	metrics.GenerationRuns.WithLabelValues(string(st.run.Mode), "failed").Inc()

	fields := map[string]interface{}{"error": err.Error()}
	if errors.Is(err, ErrCreditExhausted) || errors.Is(err, ErrValidationFailed) {
		st.log.Info("generation run refused", fields)
	} else {
		st.log.Error("generation run failed", fields)
	}
	return err
}

func copyContext(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
