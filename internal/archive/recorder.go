package archive

import (
	"context"
	"time"

	"carenotify/internal/bus"
	"carenotify/internal/model"
	"carenotify/internal/obs"
	"carenotify/pkg/exception"

	"github.com/yanun0323/logs"
)

// Source is the event side the recorder attaches to, satisfied by *notify.Client.
type Source interface {
	OnNotification(fn func(model.Notification)) func()
	SubscriberID() string
}

// Recorder persists pushed notifications off the dispatch goroutine.
// Records that do not fit the queue are dropped and counted.
type Recorder struct {
	store   *Store
	queue   *bus.Queue[Record]
	metrics *obs.Metrics
	now     func() time.Time
}

func NewRecorder(store *Store, queueSize int, metrics *obs.Metrics) (*Recorder, error) {
	if store == nil {
		return nil, exception.ErrArchiveNilStore
	}
	return &Recorder{
		store:   store,
		queue:   bus.NewQueue[Record](queueSize),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Attach records every notification src emits and returns the detach func.
func (r *Recorder) Attach(src Source) func() {
	return src.OnNotification(func(n model.Notification) {
		r.Record(src.SubscriberID(), n)
	})
}

// Record queues n without blocking.
func (r *Recorder) Record(subscriberID string, n model.Notification) bool {
	if err := r.queue.TryPublish(FromNotification(subscriberID, n, r.now())); err != nil {
		r.metrics.IncArchiveDrop()
		logs.Errorf("archive notification %d, err: %+v", n.ID, err)
		return false
	}
	return true
}

// Run persists queued records until ctx is done or Close has drained the queue.
func (r *Recorder) Run(ctx context.Context) {
	r.queue.Run(ctx, func(rec Record) {
		if err := r.store.Save(ctx, rec); err != nil {
			logs.Errorf("persist archive record, err: %+v", err)
		}
	})
}

func (r *Recorder) Close() {
	r.queue.Close()
}
