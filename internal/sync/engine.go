package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailsync/internal/model"
	"mailsync/pkg/metrics"
)

// RemoteLister issues paginated list queries against the mail API.
type RemoteLister interface {
	ListConversations(ctx context.Context, params model.GetListParams) ([]model.Conversation, error)
}

// ConversationStore is the slice of the local store the engine needs.
type ConversationStore interface {
	Upsert(ctx context.Context, convs []model.Conversation) error
	ListByLabel(ctx context.Context, userID, labelID string) ([]model.Conversation, error)
}

// Engine reconciles remote list fetches into the local store and
// re-emits local snapshots on a single result stream. Processing is
// switch-to-latest: a new parameter value cancels the in-flight cycle
// and waits for it to wind down before the next one touches the store.
type Engine struct {
	remote  RemoteLister
	store   ConversationStore
	params  *ParamStream
	logger  *zap.Logger
	grace   time.Duration
	results chan Result

	mu           sync.Mutex
	continuation *model.GetListParams
}

func NewEngine(remote RemoteLister, store ConversationStore, params *ParamStream, logger *zap.Logger) *Engine {
	return &Engine{
		remote:  remote,
		store:   store,
		params:  params,
		logger:  logger,
		grace:   time.Second,
		results: make(chan Result, 8),
	}
}

// WithGrace overrides the delay between the local fallback snapshot and
// surfacing a remote list failure.
func (e *Engine) WithGrace(d time.Duration) *Engine {
	e.grace = d
	return e
}

// Results is the unified output stream subscribers render from.
func (e *Engine) Results() <-chan Result {
	return e.results
}

// LoadMore publishes the continuation parameters derived from the last
// successful non-empty page. A no-op before the first page arrives.
func (e *Engine) LoadMore() {
	e.mu.Lock()
	next := e.continuation
	e.mu.Unlock()

	if next != nil {
		e.params.LoadMore(*next)
	}
}

// Run consumes the parameter stream until ctx is cancelled. Call in a
// goroutine.
func (e *Engine) Run(ctx context.Context) {
	sub := e.params.Subscribe()

	var cancelPrev context.CancelFunc
	var prevDone chan struct{}

	for {
		select {
		case <-ctx.Done():
			if cancelPrev != nil {
				cancelPrev()
				<-prevDone
			}
			e.logger.Info("Reconciliation engine stopped")
			return
		case p := <-sub:
			if cancelPrev != nil {
				// Wait for the superseded cycle to finish so store
				// writes of two generations never interleave.
				cancelPrev()
				<-prevDone
			}

			genCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			cancelPrev, prevDone = cancel, done

			go func(p model.GetListParams) {
				defer close(done)
				e.reconcile(genCtx, p)
			}(p)
		}
	}
}

// reconcile runs one end-to-end cycle for a parameter value: remote
// fetch, merge into the local store, local re-emit. Every branch ends
// with a local-origin snapshot so subscribers always have something to
// render; remote failures surface only after that snapshot and a fixed
// grace period.
func (e *Engine) reconcile(ctx context.Context, p model.GetListParams) {
	started := time.Now()

	remote, err := e.remote.ListConversations(ctx, p)
	if err != nil {
		e.logger.Warn("Remote list fetch failed, serving local snapshot",
			zap.String("user_id", p.UserID),
			zap.String("label_id", p.LabelID),
			zap.Error(err),
		)
		e.emitLocal(ctx, p)

		// Fixed grace before the failure goes upstream; deliberately
		// not tied to ctx.
		time.Sleep(e.grace)
		e.emit(ctx, Result{Origin: OriginRemote, Err: err})
		metrics.RecordSyncCycle(p.LabelID, "fallback", time.Since(started))
		return
	}

	if ctx.Err() != nil {
		// Superseded while fetching; drop the page on the floor rather
		// than half-merge it.
		return
	}

	if len(remote) == 0 {
		e.emit(ctx, Result{Origin: OriginRemote, Err: ErrNoMoreConversations})
		metrics.RecordSyncCycle(p.LabelID, "no_more", time.Since(started))
	} else {
		if err := e.store.Upsert(ctx, remote); err != nil {
			e.logger.Error("Failed to merge remote page into local store",
				zap.String("user_id", p.UserID),
				zap.String("label_id", p.LabelID),
				zap.Int("count", len(remote)),
				zap.Error(err),
			)
		} else {
			next := p.NextFrom(remote[len(remote)-1])
			e.mu.Lock()
			e.continuation = &next
			e.mu.Unlock()
		}
		metrics.RecordSyncCycle(p.LabelID, "remote", time.Since(started))
	}

	e.emitLocal(ctx, p)
}

// emitLocal reads the current local store contents and emits them as a
// successful local-origin result. The store was mutated before this
// point, so the stream is read-your-writes consistent.
func (e *Engine) emitLocal(ctx context.Context, p model.GetListParams) {
	convs, err := e.store.ListByLabel(ctx, p.UserID, p.LabelID)
	if err != nil {
		e.logger.Error("Failed to read local snapshot",
			zap.String("user_id", p.UserID),
			zap.String("label_id", p.LabelID),
			zap.Error(err),
		)
		convs = nil
	}
	e.emit(ctx, Result{Origin: OriginLocal, Conversations: convs})
}

func (e *Engine) emit(ctx context.Context, r Result) {
	select {
	case e.results <- r:
	case <-ctx.Done():
	}
}
