package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/extract"
)

const placePage = `<html><body>
<h1 class="DUwDvf">Crumb &amp; Co Bakery</h1>
<a data-item-id="authority" href="https://crumb.example">crumb.example</a>
<button data-item-id="address"><div class="Io6YTe">1 Flour Lane, Testville</div></button>
<button data-item-id="phone:tel:+447400123456"><div class="Io6YTe">07400 123456</div></button>
</body></html>`

func TestMapsStrategy_Extract_AllFields(t *testing.T) {
	doc, err := extract.ParseHTML(placePage)
	require.NoError(t, err)

	got := extract.MapsStrategy{}.Extract(doc)

	assert.Equal(t, domain.Candidate{
		Name:    "Crumb & Co Bakery",
		Address: "1 Flour Lane, Testville",
		Phone:   "07400 123456",
		Website: "https://crumb.example",
		Email:   domain.NoEmail,
	}, got)
}

func TestMapsStrategy_Extract_MissingFieldsGetSentinels(t *testing.T) {
	doc, err := extract.ParseHTML(`<html><body><div>nothing here</div></body></html>`)
	require.NoError(t, err)

	got := extract.MapsStrategy{}.Extract(doc)

	assert.Equal(t, domain.NoName, got.Name)
	assert.Equal(t, domain.NoAddress, got.Address)
	assert.Equal(t, domain.NoPhone, got.Phone)
	assert.Equal(t, domain.NoWebsite, got.Website)
	assert.False(t, got.HasWebsite())
}

func TestMapsStrategy_Extract_FieldsAreIndependent(t *testing.T) {
	// Only the phone button is present; its label is missing so the number
	// comes from the data-item-id.
	doc, err := extract.ParseHTML(`<html><body>
<h1>Plain Heading</h1>
<button data-item-id="phone:tel:+12015550123"></button>
</body></html>`)
	require.NoError(t, err)

	got := extract.MapsStrategy{}.Extract(doc)

	assert.Equal(t, "Plain Heading", got.Name)
	assert.Equal(t, "+12015550123", got.Phone)
	assert.Equal(t, domain.NoAddress, got.Address)
}

func TestMapsStrategy_SearchURL(t *testing.T) {
	s := extract.MapsStrategy{}
	assert.Equal(t, "https://www.google.com/maps/search/bakery+in+Testville", s.SearchURL("", "bakery in Testville"))
	assert.Equal(t, "http://maps.local/search/cafe", s.SearchURL("http://maps.local/search/", "cafe"))
}
