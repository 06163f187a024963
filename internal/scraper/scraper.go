package scraper

import (
	"context"

	"olxwatch/internal/domain"
)

// Source fetches the listings currently rendered on a search-result page.
//
// A returned error means the whole page pass failed (navigation, rendering);
// the caller treats it as "no update this cycle", not as something to retry.
// Individual cards that fail to parse are logged and skipped inside the
// implementation and never surface as an error.
type Source interface {
	FetchListings(ctx context.Context, url string) ([]*domain.Listing, error)
}
