package storage

import (
	"context"
	"time"
)

// SeenRecord is the persisted dedup marker for one advertisement. At most one
// record exists per platform id.
type SeenRecord struct {
	// SurrogateID is an internal autoincrementing id, assigned on insert.
	SurrogateID uint64 `json:"surrogate_id"`

	// PlatformID is the advertisement id assigned by the classifieds site.
	PlatformID int64 `json:"platform_id"`

	// PublishedOn is the listing's parsed posted/refreshed timestamp at the
	// moment it was first seen.
	PublishedOn time.Time `json:"published_on"`
}

// Subscriber is a messaging-platform user who receives notifications.
type Subscriber struct {
	ID         int64 `json:"id"`
	Subscribed bool  `json:"subscribed"`
}

// Repository defines the durable state the watcher and the bot share: the
// seen-set used for deduplication and the subscriber list. Keeping it an
// interface lets tests substitute fakes and leaves room to swap the backing
// store without changing the poll loop.
type Repository interface {
	// HasSeen reports whether a seen record exists for the platform id.
	HasSeen(ctx context.Context, platformID int64) (bool, error)

	// MarkSeen inserts a seen record and returns its surrogate id. The
	// existence check and the insert are two separate operations; the
	// single-threaded poll loop is what keeps that race benign. Callers
	// introducing concurrency must make this an atomic check-and-insert
	// first.
	MarkSeen(ctx context.Context, platformID int64, publishedOn time.Time) (uint64, error)

	// IsSubscriber reports whether the user is currently subscribed.
	IsSubscriber(ctx context.Context, userID int64) (bool, error)

	// Subscribe records the user as a subscriber. Idempotent.
	Subscribe(ctx context.Context, userID int64) error

	// Unsubscribe removes the user. Removing an unknown user is not an error.
	Unsubscribe(ctx context.Context, userID int64) error

	// ListSubscribers enumerates the ids of all subscribed users.
	ListSubscribers(ctx context.Context) ([]int64, error)

	// Close gracefully shuts down the repository.
	Close() error
}
