// File: internal/orchestrator/orchestrator.go
// Description: Manages the lifecycle of one batch of tasks. The task engine is injected
// through its interface.

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stateprobe/api/schemas"
)

// Orchestrator feeds a batch of tasks to the task engine and waits for it to drain.
type Orchestrator struct {
	logger     *zap.Logger
	taskEngine schemas.TaskEngine
	queueSize  int
}

// New creates a new Orchestrator. queueSize bounds the task channel buffer.
func New(logger *zap.Logger, taskEngine schemas.TaskEngine, queueSize int) (*Orchestrator, error) {
	if logger == nil || taskEngine == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		taskEngine: taskEngine,
		queueSize:  queueSize,
	}, nil
}

// Run starts the engine, submits every task and stops the engine once the queue is
// drained. Cancelling ctx stops submission; tasks already queued are abandoned by the
// engine workers. It returns the number of tasks submitted.
func (o *Orchestrator) Run(ctx context.Context, batchID string, tasks []schemas.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, errors.New("no tasks to run")
	}
	o.logger.Info("Orchestrator starting batch", zap.String("batch_id", batchID), zap.Int("tasks", len(tasks)))

	taskChan := make(chan schemas.Task, o.queueSize)
	o.taskEngine.Start(ctx, taskChan)

	submitted := 0
feed:
	for _, task := range tasks {
		select {
		case taskChan <- task:
			submitted++
		case <-ctx.Done():
			o.logger.Warn("Batch interrupted before all tasks were submitted",
				zap.Int("submitted", submitted), zap.Int("total", len(tasks)))
			break feed
		}
	}
	close(taskChan)

	o.logger.Debug("All tasks submitted, waiting for the engine to drain")
	o.taskEngine.Stop()
	o.logger.Info("Batch orchestration finished", zap.String("batch_id", batchID), zap.Int("submitted", submitted))

	if err := ctx.Err(); err != nil {
		return submitted, err
	}
	return submitted, nil
}
