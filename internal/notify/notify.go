// Package notify formats listings into Telegram messages and delivers them to
// every subscriber, isolating per-subscriber failures. It also carries the
// crash reporter used for abnormal process exits.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sirupsen/logrus"

	"olxwatch/internal/domain"
)

// messageLimit is the clip point for outgoing messages, chosen to keep the
// total payload under Telegram's 4096-character bound with headroom for the
// closing marker and HTML entity expansion.
const messageLimit = 1980

const closingMarker = "...\n</blockquote>"

// Sender is the outbound half of the messaging transport.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendFile(ctx context.Context, chatID int64, data []byte, filename, caption string) error
}

// SubscriberLister enumerates notification recipients. Satisfied by
// storage.Repository.
type SubscriberLister interface {
	ListSubscribers(ctx context.Context) ([]int64, error)
}

// Dispatcher fans a listing out to all subscribers, sequentially. Delivery is
// best-effort: a failed send is logged and the batch continues, no retry, no
// dead-letter queue.
type Dispatcher struct {
	sender Sender
	subs   SubscriberLister
	log    logrus.FieldLogger
}

func NewDispatcher(sender Sender, subs SubscriberLister, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		subs:   subs,
		log:    logger.WithField("component", "dispatcher"),
	}
}

// Notify renders the listing under its category label and sends the message
// to every subscriber. Only a failure to enumerate subscribers is returned.
func (d *Dispatcher) Notify(ctx context.Context, listing *domain.Listing, category string) error {
	subscribers, err := d.subs.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}

	message := renderListing(ctx, listing, category)
	for _, userID := range subscribers {
		if err := d.sender.SendText(ctx, userID, message); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"user_id":    userID,
				"listing_id": listing.ID,
			}).Error("Unable to notify subscriber")
		}
	}
	return nil
}

// renderListing builds the HTML message body. The combined text is clipped to
// messageLimit and always terminated with the blockquote closing marker, so
// a clipped description still yields well-formed HTML.
func renderListing(ctx context.Context, l *domain.Listing, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New advertisement in %s\n\n", html.EscapeString(category))
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(l.Title))
	fmt.Fprintf(&b, "Cost: %s\n", html.EscapeString(l.Price))
	fmt.Fprintf(&b, "Featured: %t\n", l.Featured)
	fmt.Fprintf(&b, "Location: %s\n", html.EscapeString(l.Location))
	fmt.Fprintf(&b, "Date: %s\n", html.EscapeString(l.PostedAt))
	fmt.Fprintf(&b, "link: <a href=\"%s\">[CLICK]</a>\n\n", l.URL)
	fmt.Fprintf(&b, "<blockquote expandable>\n%s\n", html.EscapeString(l.Description(ctx)))

	return clip(b.String(), messageLimit) + closingMarker
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// CrashReporter delivers a final failure report to the administrator before
// the process exits: inline when it fits a single message, as an attached
// text file otherwise.
type CrashReporter struct {
	sender  Sender
	adminID int64
	log     logrus.FieldLogger
}

func NewCrashReporter(sender Sender, adminID int64, logger logrus.FieldLogger) *CrashReporter {
	return &CrashReporter{
		sender:  sender,
		adminID: adminID,
		log:     logger.WithField("component", "crash_reporter"),
	}
}

// Report sends the failure text to the administrator. Best-effort: a delivery
// failure is logged, since there is nothing left to escalate to.
func (r *CrashReporter) Report(ctx context.Context, report string) {
	if len([]rune(report)) <= messageLimit {
		text := fmt.Sprintf("<blockquote expandable>%s</blockquote>", html.EscapeString(report))
		if err := r.sender.SendText(ctx, r.adminID, text); err != nil {
			r.log.WithError(err).Error("Unable to deliver crash report")
		}
		return
	}
	if err := r.sender.SendFile(ctx, r.adminID, []byte(report), "message.txt", "Bot error"); err != nil {
		r.log.WithError(err).Error("Unable to deliver crash report file")
	}
}
