// Package autosave serialises, debounces and de-duplicates answer writes for
// each proposal.
package autosave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrPersistenceFailed = errors.New("PERSISTENCE_FAILED")

var tracer = otel.Tracer("autosave")

// Saver is the persistence path every proposal write goes through.
type Saver interface {
	UpdateProposal(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error)
}

// Pending resolves once the debounced write it was coalesced into finishes.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the write finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type batch struct {
	snapshot models.Answers
	timer    *time.Timer
	pending  *Pending
	started  bool
}

type entry struct {
	// writeMu is held for the whole duration of a write, so writes for one
	// proposal never overlap and run in the order they acquire it.
	writeMu sync.Mutex

	mu        sync.Mutex
	batch     *batch // the only batch not yet started, if any
	lastSaved []byte
	unsaved   models.Answers
}

type Coordinator struct {
	saver    Saver
	debounce time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func NewCoordinator(saver Saver, debounce time.Duration, log logger.Logger) *Coordinator {
	return &Coordinator{
		saver:    saver,
		debounce: debounce,
		logger:   log.WithFields(map[string]interface{}{"component": "autosave"}),
		entries:  map[string]*entry{},
	}
}

func (c *Coordinator) entry(id string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}

// Save schedules a debounced write of snapshot. Calls arriving within the
// debounce window coalesce; the latest snapshot wins.
func (c *Coordinator) Save(id string, snapshot models.Answers) *Pending {
	e := c.entry(id)
	snap := snapshot.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()

	if b := e.batch; b != nil && !b.started {
		b.snapshot = snap
		b.timer.Reset(c.debounce)
		return b.pending
	}

	b := &batch{snapshot: snap, pending: newPending()}
	b.timer = time.AfterFunc(c.debounce, func() { c.run(id, e, b) })
	e.batch = b
	return b.pending
}

func (c *Coordinator) run(id string, e *entry, b *batch) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	started := b.started
	e.mu.Unlock()
	if started {
		return
	}
	_ = c.drain(context.Background(), id, e, nil)
}

// SaveNow writes snapshot without waiting for the debounce window. It still
// queues behind any write in flight for the same proposal.
func (c *Coordinator) SaveNow(ctx context.Context, id string, snapshot models.Answers) error {
	e := c.entry(id)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return c.drain(ctx, id, e, snapshot.Clone())
}

// Flush writes any debounced batch immediately and waits for in-flight writes.
func (c *Coordinator) Flush(ctx context.Context, id string) error {
	e := c.entry(id)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return c.drain(ctx, id, e, nil)
}

// RetryPending re-attempts answers whose earlier write failed.
func (c *Coordinator) RetryPending(ctx context.Context, id string) error {
	return c.Flush(ctx, id)
}

// Apply sends a non-answer patch (status, project fields) through the same
// per-proposal queue as answer writes.
func (c *Coordinator) Apply(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error) {
	e := c.entry(id)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return c.saver.UpdateProposal(ctx, id, patch)
}

// Unsaved reports whether answers from a failed write still await a retry.
func (c *Coordinator) Unsaved(id string) bool {
	e := c.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsaved != nil
}

// HasPendingChanges reports unsaved answers or a debounced write not yet started.
func (c *Coordinator) HasPendingChanges(id string) bool {
	e := c.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsaved != nil || (e.batch != nil && !e.batch.started)
}

// Forget drops all state for id, abandoning any debounced write.
func (c *Coordinator) Forget(id string) {
	c.mu.Lock()
	e, ok := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.batch; b != nil && !b.started {
		b.started = true
		b.timer.Stop()
		b.pending.resolve(nil)
		e.batch = nil
	}
}

// drain writes, in one call, the unstarted batch, snapshot and previously
// unsaved answers merged in that order of precedence. Callers hold writeMu.
func (c *Coordinator) drain(ctx context.Context, id string, e *entry, snapshot models.Answers) error {
	e.mu.Lock()
	absorbed := e.batch
	if absorbed != nil && !absorbed.started {
		absorbed.started = true
		absorbed.timer.Stop()
		e.batch = nil
	} else {
		absorbed = nil
	}
	outgoing := mergeAnswers(e.unsaved, nil)
	if absorbed != nil {
		outgoing = mergeAnswers(outgoing, absorbed.snapshot)
	}
	outgoing = mergeAnswers(outgoing, snapshot)
	e.mu.Unlock()

	var err error
	if len(outgoing) > 0 {
		err = c.write(ctx, id, e, outgoing)
	}
	if absorbed != nil {
		absorbed.pending.resolve(err)
	}
	return err
}

func (c *Coordinator) write(ctx context.Context, id string, e *entry, snapshot models.Answers) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrPersistenceFailed, err)
	}

	e.mu.Lock()
	identical := e.lastSaved != nil && bytes.Equal(e.lastSaved, data)
	if identical {
		e.unsaved = nil
	}
	e.mu.Unlock()
	if identical {
		metrics.AutosaveSkipped.Inc()
		return nil
	}

	ctx, span := tracer.Start(ctx, "autosave.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("proposal.id", id),
		attribute.Int("answers.count", snapshot.Count()),
	)

	if _, err := c.saver.UpdateProposal(ctx, id, models.ProposalPatch{Answers: snapshot}); err != nil {
		metrics.AutosaveWrites.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		e.mu.Lock()
		e.unsaved = snapshot
		e.mu.Unlock()

		c.logger.Warn("auto-save failed, will retry at next checkpoint", map[string]interface{}{
			"proposalId": id,
			"answers":    snapshot.Count(),
			"error":      err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	metrics.AutosaveWrites.WithLabelValues("ok").Inc()
	e.mu.Lock()
	e.lastSaved = data
	e.unsaved = nil
	e.mu.Unlock()

	c.logger.Debug("auto-save written", map[string]interface{}{
		"proposalId": id,
		"answers":    snapshot.Count(),
	})
	return nil
}

// mergeAnswers returns a new map holding base overlaid field-by-field with over.
func mergeAnswers(base, over models.Answers) models.Answers {
	if base == nil && over == nil {
		return nil
	}
	out := base.Clone()
	if out == nil {
		out = models.Answers{}
	}
	for section, fields := range over {
		if _, ok := out[section]; !ok {
			out[section] = map[string]models.Answer{}
		}
		for field, ans := range fields {
			out[section][field] = ans
		}
	}
	return out
}
