package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrOperationExists means the owner already has an active operation.
	ErrOperationExists = errors.New("operation already exists for this owner")
	// ErrOperationNotFound means no operation matches the given ID or owner.
	ErrOperationNotFound = errors.New("operation not found")
)

// retainFinished is how long terminal operations stay queryable before the
// janitor drops them. Long enough for a CLI or browser that subscribed late
// to still fetch the final state.
const retainFinished = 5 * time.Minute

// subscriberBuffer is the event channel depth per subscriber. A slow consumer
// loses intermediate events rather than blocking the pipeline.
const subscriberBuffer = 100

// Subscriber is one live consumer of progress events. Close it via
// Service.Unsubscribe; the Events channel is closed then.
type Subscriber struct {
	ID     string
	Filter *OperationFilter
	Events chan *ProgressEvent
}

// Service is the in-memory registry of running and recently finished
// operations. All mutations go through it so every change reaches every
// subscriber exactly once.
type Service struct {
	mu      sync.RWMutex
	ops     map[string]*OperationProgress
	byOwner map[string]string
	subs    map[string]*Subscriber
	logger  *slog.Logger

	janitor *time.Ticker
	done    chan struct{}
}

// NewService creates an empty progress service. Call Start to enable the
// background janitor that drops stale terminal operations.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		ops:     make(map[string]*OperationProgress),
		byOwner: make(map[string]string),
		subs:    make(map[string]*Subscriber),
		logger:  logger.With("component", "progress_service"),
		done:    make(chan struct{}),
	}
}

// Start launches the janitor goroutine.
func (s *Service) Start() {
	s.janitor = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.janitor.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the janitor. Subscribers are not closed; callers unsubscribe
// themselves.
func (s *Service) Stop() {
	if s.janitor != nil {
		s.janitor.Stop()
		close(s.done)
	}
}

// sweep drops terminal operations whose completion is older than the
// retention window.
func (s *Service) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retainFinished)
	dropped := 0
	for id, op := range s.ops {
		if !op.State.IsTerminal() || op.CompletedAt == nil || op.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.ops, id)
		key := ownerKey(op.OwnerType, op.OwnerID)
		if s.byOwner[key] == id {
			delete(s.byOwner, key)
		}
		dropped++
	}
	if dropped > 0 {
		s.logger.Debug("dropped stale operations", "count", dropped)
	}
}

func ownerKey(ownerType string, ownerID models.ULID) string {
	return ownerType + ":" + ownerID.String()
}

// StartOperation registers a new operation for an owner and returns its
// manager. An owner can have at most one active operation; a finished one is
// superseded.
func (s *Service) StartOperation(
	opType OperationType,
	ownerID models.ULID,
	ownerType string,
	stages []StageInfo,
) (*OperationManager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(ownerType, ownerID)
	if prevID, ok := s.byOwner[key]; ok {
		if prev, ok := s.ops[prevID]; ok && prev.State.IsActive() {
			return nil, ErrOperationExists
		}
	}

	for i := range stages {
		stages[i].State = StateIdle
		stages[i].Progress = 0
	}

	now := time.Now()
	op := &OperationProgress{
		OperationID:       ulid.Make().String(),
		OperationType:     opType,
		OwnerID:           ownerID,
		OwnerType:         ownerType,
		State:             StatePreparing,
		Message:           "Starting operation",
		Stages:            stages,
		CurrentStageIndex: -1,
		StartedAt:         now,
		UpdatedAt:         now,
		Metadata:          make(map[string]any),
	}

	s.ops[op.OperationID] = op
	s.byOwner[key] = op.OperationID

	s.logger.Debug("operation started",
		"operation_id", op.OperationID,
		"operation_type", opType,
		"owner", key,
	)
	s.publish(op)

	return &OperationManager{svc: s, id: op.OperationID}, nil
}

// GetOperation returns a snapshot of an operation by ID.
func (s *Service) GetOperation(operationID string) (*OperationProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[operationID]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.Clone(), nil
}

// GetOperationByOwner returns the owner's current (or most recent retained)
// operation.
func (s *Service) GetOperationByOwner(ownerType string, ownerID models.ULID) (*OperationProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOwner[ownerKey(ownerType, ownerID)]
	if !ok {
		return nil, ErrOperationNotFound
	}
	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.Clone(), nil
}

// ListOperations returns snapshots of every operation the filter matches.
func (s *Service) ListOperations(filter *OperationFilter) []*OperationProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*OperationProgress
	for _, op := range s.ops {
		if filter.Matches(op) {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Subscribe registers a new event consumer. Events already in flight before
// the subscription are not replayed; pair Subscribe with GetOperation for a
// consistent starting picture.
func (s *Service) Subscribe(filter *OperationFilter) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Filter: filter,
		Events: make(chan *ProgressEvent, subscriberBuffer),
	}
	s.subs[sub.ID] = sub
	s.logger.Debug("subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// an unknown ID.
func (s *Service) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subscriberID]
	if !ok {
		return
	}
	close(sub.Events)
	delete(s.subs, subscriberID)
	s.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
}

// mutate applies fn to an operation under the lock and publishes the result.
func (s *Service) mutate(operationID string, fn func(*OperationProgress)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[operationID]
	if !ok {
		return ErrOperationNotFound
	}
	fn(op)
	op.UpdatedAt = time.Now()
	s.publish(op)
	return nil
}

// publish fans an event out to matching subscribers. Must hold s.mu. Full
// subscriber channels drop the event; the next update carries the fresh
// state anyway.
func (s *Service) publish(op *OperationProgress) {
	ev := &ProgressEvent{
		EventType: eventTypeFor(op.State),
		Progress:  op.Clone(),
		Timestamp: time.Now(),
	}
	for _, sub := range s.subs {
		if !sub.Filter.Matches(op) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			s.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"operation_id", op.OperationID,
			)
		}
	}
}

func eventTypeFor(state OperationState) string {
	switch state {
	case StateCompleted:
		return EventTypeCompleted
	case StateError:
		return EventTypeError
	case StateCancelled:
		return EventTypeCancelled
	default:
		return EventTypeProgress
	}
}

// OperationManager mutates one operation. The pipeline holds it for the
// lifetime of a run.
type OperationManager struct {
	svc *Service
	id  string
}

// OperationID returns the managed operation's ID.
func (m *OperationManager) OperationID() string {
	return m.id
}

// SetMessage replaces the operation-level status message.
func (m *OperationManager) SetMessage(message string) {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		op.Message = message
	})
}

// SetState forces the operation state. Terminal states also stamp
// CompletedAt.
func (m *OperationManager) SetState(state OperationState) {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		op.State = state
		if state.IsTerminal() {
			now := time.Now()
			op.CompletedAt = &now
		}
	})
}

// SetMetadata attaches an operation-scoped key/value visible to API clients.
func (m *OperationManager) SetMetadata(key string, value any) {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		if op.Metadata == nil {
			op.Metadata = make(map[string]any)
		}
		op.Metadata[key] = value
	})
}

// Complete marks the operation and any unfinished stages as done.
func (m *OperationManager) Complete(message string) {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		now := time.Now()
		op.State = StateCompleted
		op.Progress = 1.0
		op.Message = message
		op.CompletedAt = &now
		for i := range op.Stages {
			if op.Stages[i].State == StateCompleted {
				continue
			}
			op.Stages[i].State = StateCompleted
			op.Stages[i].Progress = 1.0
			op.Stages[i].CompletedAt = &now
		}
	})
	m.svc.logger.Debug("operation completed", "operation_id", m.id, "message", message)
}

// Fail marks the operation as failed and records the error text.
func (m *OperationManager) Fail(err error) {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		now := time.Now()
		op.State = StateError
		op.Error = err.Error()
		op.Message = "Operation failed: " + err.Error()
		op.CompletedAt = &now
	})
	m.svc.logger.Error("operation failed", "operation_id", m.id, "error", err)
}

// Cancel marks the operation as cancelled.
func (m *OperationManager) Cancel() {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		now := time.Now()
		op.State = StateCancelled
		op.Message = "Operation cancelled"
		op.CompletedAt = &now
	})
	m.svc.logger.Debug("operation cancelled", "operation_id", m.id)
}

// StartStage marks a stage as the active one and returns its updater.
// Unknown stage IDs yield an updater whose calls are no-ops.
func (m *OperationManager) StartStage(stageID string) *StageUpdater {
	_ = m.svc.mutate(m.id, func(op *OperationProgress) {
		for i := range op.Stages {
			if op.Stages[i].ID != stageID {
				continue
			}
			now := time.Now()
			op.CurrentStageIndex = i
			op.Stages[i].State = StateProcessing
			op.Stages[i].StartedAt = &now
			op.Stages[i].Progress = 0
			op.State = StateProcessing
			op.Message = op.Stages[i].Name
			return
		}
	})
	return &StageUpdater{mgr: m, stageID: stageID}
}

// ReportProgress implements core.ProgressReporter so the manager can be
// handed straight to the pipeline orchestrator.
func (m *OperationManager) ReportProgress(ctx context.Context, stageID string, progress float64, message string) {
	(&StageUpdater{mgr: m, stageID: stageID}).SetProgress(progress, message)
}

// ReportItemProgress implements core.ProgressReporter.
func (m *OperationManager) ReportItemProgress(ctx context.Context, stageID string, current, total int, item string) {
	(&StageUpdater{mgr: m, stageID: stageID}).SetItemProgress(current, total, item)
}

// StageUpdater mutates one stage of an operation.
type StageUpdater struct {
	mgr     *OperationManager
	stageID string
}

// forStage applies fn to the updater's stage, then refreshes the
// weight-aggregated operation progress.
func (u *StageUpdater) forStage(fn func(op *OperationProgress, st *StageInfo)) {
	_ = u.mgr.svc.mutate(u.mgr.id, func(op *OperationProgress) {
		for i := range op.Stages {
			if op.Stages[i].ID == u.stageID {
				fn(op, &op.Stages[i])
				break
			}
		}
		aggregate(op)
	})
}

// aggregate recomputes operation progress as the weight-normalized sum of
// stage progress.
func aggregate(op *OperationProgress) {
	var sum, weight float64
	for _, st := range op.Stages {
		sum += st.Weight * st.Progress
		weight += st.Weight
	}
	if weight > 0 {
		op.Progress = sum / weight
	}
}

// SetProgress sets the stage's fractional progress and message.
func (u *StageUpdater) SetProgress(progress float64, message string) {
	u.forStage(func(op *OperationProgress, st *StageInfo) {
		st.Progress = progress
		st.Message = message
		op.Message = message
	})
}

// SetItemProgress sets item-count progress (e.g. frames classified so far).
func (u *StageUpdater) SetItemProgress(current, total int, currentItem string) {
	u.forStage(func(op *OperationProgress, st *StageInfo) {
		st.Current = current
		st.Total = total
		st.CurrentItem = currentItem
		if total > 0 {
			st.Progress = float64(current) / float64(total)
		}
	})
}

// Complete marks the stage finished.
func (u *StageUpdater) Complete() {
	u.forStage(func(op *OperationProgress, st *StageInfo) {
		now := time.Now()
		st.State = StateCompleted
		st.Progress = 1.0
		st.CompletedAt = &now
	})
}

// Fail marks the stage failed. The operation-level state is left for
// OperationManager.Fail, which the orchestrator calls with the full error.
func (u *StageUpdater) Fail(err error) {
	u.forStage(func(op *OperationProgress, st *StageInfo) {
		now := time.Now()
		st.State = StateError
		st.Message = err.Error()
		st.CompletedAt = &now
	})
}
