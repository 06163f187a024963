package scraper

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScraper(t *testing.T) *RodScraper {
	t.Helper()
	base, err := url.Parse("https://www.olx.pl")
	require.NoError(t, err)
	return &RodScraper{base: base}
}

func TestResolveURL(t *testing.T) {
	s := testScraper(t)

	got, err := s.resolveURL("/d/oferta/plyta-glowna-am5-CID99.html")
	require.NoError(t, err)
	assert.Equal(t, "https://www.olx.pl/d/oferta/plyta-glowna-am5-CID99.html", got)

	// Promoted cards already carry absolute links.
	got, err = s.resolveURL("https://www.otodom.pl/oferta/123")
	require.NoError(t, err)
	assert.Equal(t, "https://www.otodom.pl/oferta/123", got)
}

func TestSplitLocationDate(t *testing.T) {
	location, date, err := splitLocationDate("Kraków, Krowodrza - Dzisiaj o 22:01")
	require.NoError(t, err)
	assert.Equal(t, "Kraków, Krowodrza", location)
	assert.Equal(t, "Dzisiaj o 22:01", date)

	_, _, err = splitLocationDate("no delimiter here")
	assert.Error(t, err)
}
