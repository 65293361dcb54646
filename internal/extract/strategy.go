// Package extract turns a loaded listing page into a domain.Candidate.
// Site-specific selectors live behind Strategy so a markup change only needs
// a new Strategy, not a crawler change.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

// Strategy describes how to find listings on a results page and how to read
// one listing page.
type Strategy interface {
	Name() string
	// SearchURL builds the results page URL for query under base.
	SearchURL(base, query string) string
	// FeedSelector matches the scrollable results container.
	FeedSelector() string
	// LinkSelector matches anchors to individual listings inside the feed.
	LinkSelector() string
	// TitleSelector matches the element that signals a listing page loaded.
	TitleSelector() string
	// ConsentSelectors match buttons that dismiss a consent interstitial.
	ConsentSelectors() []string
	// Extract reads the listing fields. Every field is located
	// independently; a missing field gets its sentinel.
	Extract(doc *goquery.Document) domain.Candidate
}

// MapsStrategy reads Google Maps search results and place pages.
type MapsStrategy struct{}

var _ Strategy = MapsStrategy{}

const phoneItemPrefix = "phone:tel:"

func (MapsStrategy) Name() string { return "google-maps" }

func (MapsStrategy) SearchURL(base, query string) string {
	if base == "" {
		base = "https://www.google.com/maps/search/"
	}
	return strings.TrimRight(base, "/") + "/" + strings.ReplaceAll(strings.TrimSpace(query), " ", "+")
}

func (MapsStrategy) FeedSelector() string  { return `div[role="feed"]` }
func (MapsStrategy) LinkSelector() string  { return `a.hfpxzc, a[href*="/maps/place/"]` }
func (MapsStrategy) TitleSelector() string { return `h1.DUwDvf, h1.fontHeadlineLarge` }

func (MapsStrategy) ConsentSelectors() []string {
	return []string{
		`button[aria-label="Reject all"]`,
		`button[aria-label="Rechazar todo"]`,
		`button[aria-label="Alle ablehnen"]`,
		`form[action*="consent"] button`,
	}
}

func (s MapsStrategy) Extract(doc *goquery.Document) domain.Candidate {
	return domain.Candidate{
		Name:    orSentinel(s.name(doc), domain.NoName),
		Address: orSentinel(text(doc, `button[data-item-id="address"] div.Io6YTe`), domain.NoAddress),
		Phone:   orSentinel(phone(doc), domain.NoPhone),
		Website: orSentinel(attr(doc, `a[data-item-id="authority"]`, "href"), domain.NoWebsite),
		Email:   domain.NoEmail,
	}
}

func (s MapsStrategy) name(doc *goquery.Document) string {
	if n := text(doc, s.TitleSelector()); n != "" {
		return n
	}
	return text(doc, "h1")
}

// phone prefers the rendered label and falls back to the number encoded in
// the button's data-item-id.
func phone(doc *goquery.Document) string {
	if p := text(doc, `button[data-item-id^="phone:tel:"] div.Io6YTe`); p != "" {
		return p
	}
	id := attr(doc, `button[data-item-id^="phone:tel:"]`, "data-item-id")
	return strings.TrimPrefix(id, phoneItemPrefix)
}

func text(doc *goquery.Document, sel string) string {
	return strings.TrimSpace(doc.Find(sel).First().Text())
}

func attr(doc *goquery.Document, sel, name string) string {
	v, _ := doc.Find(sel).First().Attr(name)
	return strings.TrimSpace(v)
}

func orSentinel(v, sentinel string) string {
	if v == "" {
		return sentinel
	}
	return v
}

// ParseHTML parses a page snapshot.
func ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
