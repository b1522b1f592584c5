package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	memoryqueue "github.com/JakeFAU/knowledge-engine/internal/queue/memory"
)

type testItem struct {
	URL string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Outcomes() []progress.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Outcome, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Outcome)
	}
	return out
}

// stageRecorder builds a Stage whose functions are driven by its fields.
type stageRecorder struct {
	queue    *memoryqueue.Queue[testItem]
	next     *memoryqueue.Queue[testItem]
	decision Decision
	checkErr error
	// invokeErrs are returned by successive Invoke calls; nil entries succeed.
	invokeErrs []error
	panicOnce  atomic.Bool
	invokeHook func(ctx context.Context)

	mu       sync.Mutex
	invokes  int
	applied  []string
	addTimes []time.Time
}

func newStageRecorder() *stageRecorder {
	return &stageRecorder{
		queue: memoryqueue.NewQueue[testItem](),
		next:  memoryqueue.NewQueue[testItem](),
	}
}

func (r *stageRecorder) Invokes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invokes
}

func (r *stageRecorder) Applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func (r *stageRecorder) stage() Stage[testItem, string] {
	return Stage[testItem, string]{
		Name:  progress.StageFetch,
		Queue: &timedQueue{Queue: r.queue, rec: r},
		URL:   func(item testItem) string { return item.URL },
		Check: func(_ context.Context, item testItem) (Decision, knowledge.DocumentRecord, error) {
			return r.decision, knowledge.DocumentRecord{URL: item.URL}, r.checkErr
		},
		Invoke: func(ctx context.Context, item testItem, _ knowledge.DocumentRecord) (string, error) {
			if r.invokeHook != nil {
				r.invokeHook(ctx)
			}
			if r.panicOnce.CompareAndSwap(true, false) {
				panic("collaborator exploded")
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			n := r.invokes
			r.invokes++
			if n < len(r.invokeErrs) && r.invokeErrs[n] != nil {
				return "", r.invokeErrs[n]
			}
			return "content of " + item.URL, nil
		},
		Apply: func(_ context.Context, _ testItem, result string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.applied = append(r.applied, result)
			return nil
		},
		Advance: func(ctx context.Context, item testItem) error {
			return r.next.Add(ctx, item)
		},
		Annotate: func(result string, evt *progress.Event) {
			evt.Bytes = int64(len(result))
		},
	}
}

// timedQueue records when items are added so retry timing can be checked.
type timedQueue struct {
	*memoryqueue.Queue[testItem]
	rec *stageRecorder
}

func (q *timedQueue) Add(ctx context.Context, item testItem) error {
	q.rec.mu.Lock()
	q.rec.addTimes = append(q.rec.addTimes, time.Now())
	q.rec.mu.Unlock()
	return q.Queue.Add(ctx, item)
}

// countingQueue is always empty and counts polls.
type countingQueue struct {
	polls atomic.Int64
	err   error
}

func (q *countingQueue) Add(context.Context, testItem) error { return nil }

func (q *countingQueue) Next(context.Context) (testItem, bool, error) {
	q.polls.Add(1)
	return testItem{}, false, q.err
}

var errTransient = errors.New("transient failure")
