package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// ErrNoTask is returned by Receive when no task is visible.
var ErrNoTask = errors.New("no tasks in queue")

// queuedTask wraps a task with its queue bookkeeping.
type queuedTask struct {
	ID           string           `json:"id"`
	Task         models.QueueTask `json:"task"`
	EnqueuedAt   time.Time        `json:"enqueued_at"`
	VisibleAt    time.Time        `json:"visible_at"`
	ReceiveCount int              `json:"receive_count"`
}

// BadgerQueue is a persistent task queue on BadgerDB. Task data lives under
// queue:{name}:msg:{id}; a visibility index under queue:{name}:index:{ts}:{id}
// keeps ready tasks findable with a single ordered prefix scan. Receiving a
// task re-keys its index entry to now+visibilityTimeout, so a consumer that
// dies without acking hands the task back automatically.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

var _ interfaces.TaskQueue = (*BadgerQueue)(nil)

// NewBadgerQueue creates a queue on an externally managed BadgerDB.
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a task that is immediately visible.
func (q *BadgerQueue) Enqueue(ctx context.Context, task *models.QueueTask) error {
	return q.EnqueueWithDelay(ctx, task, 0)
}

// EnqueueWithDelay adds a task that becomes visible after the delay. The
// task's own id doubles as the queue message id, so callers holding a task
// can extend its visibility without extra bookkeeping.
func (q *BadgerQueue) EnqueueWithDelay(ctx context.Context, task *models.QueueTask, delay time.Duration) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	qt := queuedTask{
		ID:         task.ID,
		Task:       *task,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now().Add(delay),
	}

	data, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("failed to marshal queued task: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(qt.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qt.VisibleAt, qt.ID), []byte{})
	})
}

// Receive pulls the next visible task. The returned ack function removes the
// task permanently. Tasks received maxReceive times without an ack are
// dropped so a poison task cannot wedge the processor.
func (q *BadgerQueue) Receive(ctx context.Context) (*models.QueueTask, func() error, error) {
	var qt queuedTask
	var taskID string
	var oldIndexKey []byte

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index keys sort by timestamp, so the first future entry
			// ends the scan.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &qt)
			}); err != nil {
				return err
			}

			if qt.ReceiveCount >= q.maxReceive {
				q.logger.Warn().
					Str("task_id", id).
					Str("task_type", qt.Task.Type).
					Int("receive_count", qt.ReceiveCount).
					Msg("Dropping task after too many receives")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			found = true
			taskID = id
			oldIndexKey = key
			break
		}

		if !found {
			return ErrNoTask
		}

		qt.ReceiveCount++
		qt.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(qt)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(taskID), newData); err != nil {
			return err
		}

		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qt.VisibleAt, taskID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	ackFn := func() error {
		return q.db.Update(func(txn *badger.Txn) error {
			msgKey := q.msgKey(taskID)
			item, err := txn.Get(msgKey)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil // already acked
				}
				return err
			}

			var current queuedTask
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}

			// The index key tracks the current visibility deadline, which
			// may have moved since the receive.
			if err := txn.Delete(q.indexKey(current.VisibleAt, taskID)); err != nil {
				if err != badger.ErrKeyNotFound {
					return err
				}
			}
			return txn.Delete(msgKey)
		})
	}

	return &qt.Task, ackFn, nil
}

// Extend pushes out the visibility deadline for an in-flight task.
func (q *BadgerQueue) Extend(ctx context.Context, taskID string, duration time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		msgKey := q.msgKey(taskID)
		item, err := txn.Get(msgKey)
		if err != nil {
			return err
		}

		var qt queuedTask
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qt)
		}); err != nil {
			return err
		}

		oldVisibleAt := qt.VisibleAt
		qt.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(qt)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, newData); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(oldVisibleAt, taskID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(q.indexKey(qt.VisibleAt, taskID), []byte{})
	})
}

// Length returns the number of tasks in the queue, visible or not.
func (q *BadgerQueue) Length(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the BadgerDB is owned by the storage manager.
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexicographic order matches numeric order.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits plus separator
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
