package archive

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

// Recorder bridges the orchestrator event stream into an archive Store. It
// persists every completed task as the event lands; consensus tallies are
// archived by the call sites that run them, which hold the full result.
type Recorder struct {
	archive Store
	tasks   registry.Store
	events  <-chan orchestrator.Event
	cancel  func()
	logger  *zap.Logger
}

// NewRecorder subscribes to the bus. Events buffer in the subscription until
// Run starts draining; a recorder that is never run drops overflow the same
// way any slow subscriber does.
func NewRecorder(bus *orchestrator.EventBus, tasks registry.Store, archive Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	events, cancel := bus.Subscribe()
	return &Recorder{
		archive: archive,
		tasks:   tasks,
		events:  events,
		cancel:  cancel,
		logger:  logger,
	}
}

// Run drains events until ctx is cancelled or the bus closes. It blocks; a
// clean cancellation returns nil. Archive write failures are logged and
// skipped so history never stalls the event stream.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.cancel()

	r.logger.Info("archive recorder started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("archive recorder stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case evt, ok := <-r.events:
			if !ok {
				r.logger.Info("archive recorder stopped")
				return nil
			}
			if evt.Type != orchestrator.EventTaskCompleted {
				continue
			}
			r.archiveTask(ctx, evt)
		}
	}
}

// archiveTask loads the completed task from the registry and persists it.
// The registry copy is authoritative: it carries the collected results and
// timestamps, while the event only names the task.
func (r *Recorder) archiveTask(ctx context.Context, evt orchestrator.Event) {
	taskID, _ := evt.Data["task_id"].(string)
	if taskID == "" {
		return
	}
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		r.logger.Warn("archive skipped, task lookup failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if err := r.archive.SaveTask(ctx, task); err != nil {
		r.logger.Warn("archive write failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	r.logger.Debug("task archived", zap.String("task_id", taskID))
}
