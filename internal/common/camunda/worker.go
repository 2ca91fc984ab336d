// internal/common/camunda/worker.go
package camunda

import (
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"
)

// JobHandler is implemented by every worker's Handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type WorkerOptions struct {
	MaxJobsActive int
	Timeout       time.Duration
}

type CamundaWorker struct {
	worker   worker.JobWorker
	taskType string
}

// WorkerGroup opens job workers on one client and closes them together.
type WorkerGroup struct {
	client zbc.Client
	logger *zap.Logger

	mu      sync.Mutex
	workers []*CamundaWorker
}

func NewWorkerGroup(client zbc.Client, logger *zap.Logger) *WorkerGroup {
	return &WorkerGroup{client: client, logger: logger}
}

// Start opens a job worker for taskType.
func (g *WorkerGroup) Start(taskType string, opts WorkerOptions, handler JobHandler) {
	jobWorker := g.client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout).
		Name("proposal-workers").
		Open()

	g.mu.Lock()
	g.workers = append(g.workers, &CamundaWorker{worker: jobWorker, taskType: taskType})
	g.mu.Unlock()

	g.logger.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", opts.MaxJobsActive),
		zap.Duration("timeout", opts.Timeout),
	)
}

// TaskTypes lists the task types with an open worker.
func (g *WorkerGroup) TaskTypes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.workers))
	for i, w := range g.workers {
		out[i] = w.taskType
	}
	return out
}

// Stop closes every worker and waits for in-flight jobs to finish.
func (g *WorkerGroup) Stop() {
	g.mu.Lock()
	workers := g.workers
	g.workers = nil
	g.mu.Unlock()

	for _, w := range workers {
		g.logger.Info("stopping worker", zap.String("taskType", w.taskType))
		w.worker.Close()
		w.worker.AwaitClose()
	}
}
