package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"olxwatch/internal/domain"
)

// Selectors for the OLX search-result DOM. There is no stable API contract
// behind them; when the site changes its markup these are the first thing to
// update.
const (
	cardSelector         = `div[data-cy=l-card]`
	cardLinkSelector     = `div>div>div>a`
	cardTitleSelector    = `a>h4`
	cardPriceSelector    = `div[data-cy=ad-card-title]>p`
	cardLocationSelector = `p[data-testid=location-date]`
	descriptionSelector  = `div[data-cy="ad_description"] > div`

	// Location and date share one text node on the card.
	locationDateDelimiter = " - "
)

const (
	// cardRenderTimeout bounds the wait for the first listing card after the
	// page load event; search results are rendered client-side.
	cardRenderTimeout = 10 * time.Second

	// descriptionTimeout bounds the wait for the description element on a
	// listing's own page.
	descriptionTimeout = 5 * time.Second
)

// canvasAlphaJS reads the alpha channel of the pixel at the canvas's visual
// center. Featured listings carry a transparent overlay canvas; a non-zero
// alpha there is the only machine-readable "featured" signal the site exposes.
const canvasAlphaJS = `() => {
	const ctx = this.getContext('2d');
	if (!ctx) return 0;
	const x = Math.floor(this.width / 2);
	const y = Math.floor(this.height / 2);
	return ctx.getImageData(x, y, 1, 1).data[3];
}`

// RodScraper implements Source and domain.DescriptionFetcher on a shared
// long-lived rod browser. Every navigation opens its own page and closes it
// on exit, so tabs never leak across polls.
type RodScraper struct {
	browser *rod.Browser
	base    *url.URL
	log     logrus.FieldLogger
}

// LaunchBrowser starts a headless browser and connects to it. The caller owns
// the returned instance and must Close it on shutdown.
func LaunchBrowser() (*rod.Browser, error) {
	path, found := launcher.LookPath()
	if !found {
		return nil, errors.New("browser executable not found for rod")
	}
	controlURL, err := launcher.New().Bin(path).Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, nil
}

// NewRodScraper wraps an already-connected browser. baseURL is the site
// origin used to resolve relative card links.
func NewRodScraper(browser *rod.Browser, baseURL string, logger logrus.FieldLogger) (*RodScraper, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	return &RodScraper{
		browser: browser,
		base:    base,
		log:     logger.WithField("component", "scraper"),
	}, nil
}

// FetchListings navigates to a search-result page and extracts one Listing
// per rendered card. Cards that fail to parse are skipped.
func (s *RodScraper) FetchListings(ctx context.Context, pageURL string) (listings []*domain.Listing, err error) {
	log := s.log.WithField("url", pageURL)

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer s.closePage(page, log)

	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}

	// The result grid is rendered client-side; wait for the first card before
	// collecting them all. No card after the timeout means an empty result
	// page, which is a valid outcome.
	if _, err := page.Timeout(cardRenderTimeout).Element(cardSelector); err != nil {
		log.Warn("No listing cards rendered")
		return nil, nil
	}

	cards, err := page.Elements(cardSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to query listing cards: %w", err)
	}
	log.WithField("count", len(cards)).Info("Listing cards found")

	for _, card := range cards {
		listing, err := s.parseCard(card)
		if err != nil {
			log.WithError(err).Warn("Unable to parse listing card, skipping")
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// parseCard extracts one Listing from a card element. Lookups use the
// no-retry sleeper: at this point the card is fully rendered, so a missing
// element is a parse failure, not something to wait out.
func (s *RodScraper) parseCard(card *rod.Element) (*domain.Listing, error) {
	c := card.Sleeper(rod.NotFoundSleeper)

	idAttr, err := c.Attribute("id")
	if err != nil || idAttr == nil {
		return nil, fmt.Errorf("card has no id attribute: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(*idAttr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("card id %q is not numeric: %w", *idAttr, err)
	}

	link, err := c.Element(cardLinkSelector)
	if err != nil {
		return nil, fmt.Errorf("card %d has no detail link: %w", id, err)
	}
	href, err := link.Attribute("href")
	if err != nil || href == nil {
		return nil, fmt.Errorf("card %d link has no href: %w", id, err)
	}
	detailURL, err := s.resolveURL(*href)
	if err != nil {
		return nil, fmt.Errorf("card %d href %q: %w", id, *href, err)
	}

	title, err := elementText(c, cardTitleSelector)
	if err != nil {
		return nil, fmt.Errorf("card %d title: %w", id, err)
	}
	price, err := elementText(c, cardPriceSelector)
	if err != nil {
		return nil, fmt.Errorf("card %d price: %w", id, err)
	}

	locationDate, err := elementText(c, cardLocationSelector)
	if err != nil {
		return nil, fmt.Errorf("card %d location/date: %w", id, err)
	}
	location, postedAt, err := splitLocationDate(locationDate)
	if err != nil {
		return nil, fmt.Errorf("card %d: %w", id, err)
	}

	var previewURL string
	if img, err := c.Element("img"); err == nil {
		if src, err := img.Attribute("src"); err == nil && src != nil {
			previewURL = *src
		}
	}

	featured, err := s.isFeatured(c)
	if err != nil {
		return nil, fmt.Errorf("card %d featured flag: %w", id, err)
	}

	return domain.NewListing(id, strings.TrimSpace(title), strings.TrimSpace(price),
		detailURL, previewURL, featured, location, postedAt, s), nil
}

// isFeatured samples the center pixel of the card's overlay canvas. A card
// without a canvas is simply not featured.
func (s *RodScraper) isFeatured(card *rod.Element) (bool, error) {
	canvas, err := card.Element("canvas")
	if err != nil {
		if errors.Is(err, &rod.ElementNotFoundError{}) {
			return false, nil
		}
		return false, err
	}
	obj, err := canvas.Eval(canvasAlphaJS)
	if err != nil {
		return false, fmt.Errorf("failed to sample canvas pixel: %w", err)
	}
	return obj.Value.Int() > 0, nil
}

// FetchDescription loads a listing's own page and extracts the description
// text, waiting a bounded time for the element to render.
func (s *RodScraper) FetchDescription(ctx context.Context, listingURL string) (desc string, err error) {
	log := s.log.WithField("url", listingURL)

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: listingURL})
	if err != nil {
		return "", fmt.Errorf("failed to open listing page: %w", err)
	}
	defer s.closePage(page, log)

	el, err := page.Context(ctx).Timeout(descriptionTimeout).Element(descriptionSelector)
	if err != nil {
		return "", fmt.Errorf("description element did not render: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read description text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (s *RodScraper) closePage(page *rod.Page, log logrus.FieldLogger) {
	if err := page.Close(); err != nil {
		log.WithError(err).Error("Error closing page")
	}
}

// resolveURL resolves a card href against the site origin. Promoted cards
// sometimes carry absolute links already.
func (s *RodScraper) resolveURL(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("unparsable link: %w", err)
	}
	return s.base.ResolveReference(ref).String(), nil
}

func splitLocationDate(text string) (location, date string, err error) {
	parts := strings.SplitN(text, locationDateDelimiter, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unexpected location/date text %q", text)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func elementText(el *rod.Element, selector string) (string, error) {
	child, err := el.Element(selector)
	if err != nil {
		return "", err
	}
	return child.Text()
}
