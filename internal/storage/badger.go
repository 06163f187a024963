package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key layout:
//
//	ad:{platformID}  -> SeenRecord (JSON)
//	user:{userID}    -> Subscriber (JSON)
//
// Surrogate ids for seen records come from a badger sequence, standing in for
// the AUTOINCREMENT column a relational store would provide.

const seenSequenceKey = "seq:ad"

// BadgerRepository implements Repository on a local file-backed BadgerDB.
type BadgerRepository struct {
	db      *badger.DB
	seenSeq *badger.Sequence
	log     logrus.FieldLogger
}

// NewBadgerRepository opens (creating if necessary) the database at dbPath.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}

	seq, err := db.GetSequence([]byte(seenSequenceKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open seen-record sequence: %w", err)
	}

	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerRepository{
		db:      db,
		seenSeq: seq,
		log:     logger.WithField("component", "repository"),
	}, nil
}

// Close releases the sequence and closes the database.
func (r *BadgerRepository) Close() error {
	if err := r.seenSeq.Release(); err != nil {
		r.log.WithError(err).Error("Error releasing seen-record sequence")
	}
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger db: %w", err)
	}
	return nil
}

func seenKey(platformID int64) []byte {
	return []byte(fmt.Sprintf("ad:%d", platformID))
}

func subscriberKey(userID int64) []byte {
	return []byte(fmt.Sprintf("user:%d", userID))
}

var subscriberPrefix = []byte("user:")

// HasSeen reports whether the platform id already has a seen record.
func (r *BadgerRepository) HasSeen(ctx context.Context, platformID int64) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(seenKey(platformID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check seen record for %d: %w", platformID, err)
	}
	return found, nil
}

// MarkSeen persists a seen record for the platform id and returns its
// surrogate id. Surrogate ids start at 1 and are monotonic across restarts.
func (r *BadgerRepository) MarkSeen(ctx context.Context, platformID int64, publishedOn time.Time) (uint64, error) {
	next, err := r.seenSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate surrogate id: %w", err)
	}
	rec := SeenRecord{
		SurrogateID: next + 1,
		PlatformID:  platformID,
		PublishedOn: publishedOn,
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal seen record: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seenKey(platformID), val)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store seen record for %d: %w", platformID, err)
	}

	r.log.WithFields(logrus.Fields{
		"platform_id":  platformID,
		"surrogate_id": rec.SurrogateID,
	}).Debug("Seen record stored")
	return rec.SurrogateID, nil
}

// IsSubscriber reports whether the user exists with the subscribed flag set.
func (r *BadgerRepository) IsSubscriber(ctx context.Context, userID int64) (bool, error) {
	var sub Subscriber
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(subscriberKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sub)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load subscriber %d: %w", userID, err)
	}
	return sub.Subscribed, nil
}

// Subscribe stores the user as subscribed. Subscribing twice is a no-op.
func (r *BadgerRepository) Subscribe(ctx context.Context, userID int64) error {
	val, err := json.Marshal(Subscriber{ID: userID, Subscribed: true})
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(subscriberKey(userID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe user %d: %w", userID, err)
	}
	r.log.WithField("user_id", userID).Info("User subscribed")
	return nil
}

// Unsubscribe removes the user's record. Deleting is idempotent.
func (r *BadgerRepository) Unsubscribe(ctx context.Context, userID int64) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(subscriberKey(userID))
	})
	if err != nil {
		return fmt.Errorf("failed to unsubscribe user %d: %w", userID, err)
	}
	r.log.WithField("user_id", userID).Info("User unsubscribed")
	return nil
}

// ListSubscribers returns the ids of all subscribed users, ascending.
func (r *BadgerRepository) ListSubscribers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(subscriberPrefix); it.ValidForPrefix(subscriberPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sub Subscriber
				if err := json.Unmarshal(val, &sub); err != nil {
					return fmt.Errorf("failed to unmarshal subscriber at key %s: %w", string(it.Item().Key()), err)
				}
				if sub.Subscribed {
					ids = append(ids, sub.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warningf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logger.Infof(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Debugf(f, v...) }
