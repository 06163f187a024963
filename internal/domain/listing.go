package domain

import "context"

// DescriptionUnavailable is cached in place of a description when fetching it
// fails. The sentinel is terminal for the Listing instance: a transient fetch
// failure is never retried. Listings are rebuilt from the DOM on every poll,
// so the poisoned cache lives at most one cycle.
const DescriptionUnavailable = "Not provided"

// DescriptionFetcher loads the full description text from a listing's own
// page. Implemented by the scraper; abstracted here so Listing stays testable
// without a browser.
type DescriptionFetcher interface {
	FetchDescription(ctx context.Context, url string) (string, error)
}

// Listing is one scraped classified advertisement, built fresh from rendered
// DOM state on each poll. Only the platform ID and first-seen timestamp ever
// persist; the struct itself is throwaway.
type Listing struct {
	// ID is the platform-assigned advertisement id. Stable across polls for
	// the same ad, which makes it the deduplication key.
	ID int64

	// Title as rendered on the card.
	Title string

	// Price is the raw currency-inclusive text ("1 200 zł"); never parsed
	// numerically.
	Price string

	// URL is the absolute link to the listing's own page.
	URL string

	// PreviewURL points at the card's preview image.
	PreviewURL string

	// Featured marks paid promotion, detected via canvas pixel sampling.
	Featured bool

	// Location as rendered on the card.
	Location string

	// PostedAt is the raw localized date string; convert with polishtime.
	PostedAt string

	fetcher DescriptionFetcher
	desc    string
}

// NewListing builds a Listing whose description is lazily loaded through
// fetcher. A nil fetcher yields DescriptionUnavailable on first access.
func NewListing(id int64, title, price, url, previewURL string, featured bool, location, postedAt string, fetcher DescriptionFetcher) *Listing {
	return &Listing{
		ID:         id,
		Title:      title,
		Price:      price,
		URL:        url,
		PreviewURL: previewURL,
		Featured:   featured,
		Location:   location,
		PostedAt:   postedAt,
		fetcher:    fetcher,
	}
}

// Description returns the listing's full description, fetching it on first
// use and memoizing the result. Fetch failures are swallowed: the sentinel
// DescriptionUnavailable is cached and returned instead. Not safe for
// concurrent use; the poll loop is single-threaded.
func (l *Listing) Description(ctx context.Context) string {
	if l.desc != "" {
		return l.desc
	}
	if l.fetcher == nil {
		l.desc = DescriptionUnavailable
		return l.desc
	}
	desc, err := l.fetcher.FetchDescription(ctx, l.URL)
	if err != nil || desc == "" {
		l.desc = DescriptionUnavailable
		return l.desc
	}
	l.desc = desc
	return l.desc
}
