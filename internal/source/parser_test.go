package source

import (
	"testing"
	"time"

	slyrss "github.com/SlyMarbo/rss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <link>https://example.com</link>
    <item>
      <title>First</title>
      <link>https://example.com/1</link>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description>
    </item>
    <item>
      <title>Second</title>
      <link>https://example.com/2</link>
      <pubDate>not a date at all</pubDate>
    </item>
    <item>
      <title>Third</title>
      <link>https://example.com/3</link>
    </item>
  </channel>
</rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <id>urn:uuid:feed</id>
  <updated>2023-07-03T12:00:00Z</updated>
  <entry>
    <title>Entry</title>
    <link href="https://example.com/entry"/>
    <id>urn:uuid:entry-1</id>
    <updated>2023-07-03T10:00:00Z</updated>
    <summary>Short</summary>
  </entry>
</feed>`

const jsonFeed = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON Example",
  "items": [
    {"id": "j-1", "url": "https://example.com/j1", "title": "Json One", "content_text": "Body", "date_published": "2023-07-03T10:00:00Z"}
  ]
}`

var testSource = model.FeedSource{ID: "example", URL: "https://example.com/feed"}

func TestParser_RSS(t *testing.T) {
	items, err := NewParser().Parse(testSource, []byte(rssFeed))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "example", items[0].FeedID)
	assert.Equal(t, "item-1", items[0].GUID)
	assert.Equal(t, "First", items[0].Title)
	assert.Equal(t, "https://example.com/1", items[0].Link)
	assert.Contains(t, items[0].RawSummary, "<b>world</b>")
	require.NotNil(t, items[0].PublishedAt)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)))

	assert.Equal(t, "Second", items[1].Title)
	assert.Nil(t, items[1].PublishedAt, "invalid dates are recorded as absent")
	assert.Equal(t, FallbackGUID("Second", "https://example.com/2", "not a date at all"), items[1].GUID)

	assert.Equal(t, "Third", items[2].Title)
	assert.Equal(t, FallbackGUID("Third", "https://example.com/3", ""), items[2].GUID)
}

func TestParser_FallbackGUIDIsDeterministic(t *testing.T) {
	p := NewParser()

	first, err := p.Parse(testSource, []byte(rssFeed))
	require.NoError(t, err)
	second, err := p.Parse(testSource, []byte(rssFeed))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].GUID, second[i].GUID)
	}
	assert.NotEqual(t, first[1].GUID, first[2].GUID)
}

func TestParser_Atom(t *testing.T) {
	items, err := NewParser().Parse(testSource, []byte(atomFeed))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "urn:uuid:entry-1", items[0].GUID)
	assert.Equal(t, "https://example.com/entry", items[0].Link)
	assert.Equal(t, "Short", items[0].RawSummary)
	require.NotNil(t, items[0].PublishedAt, "updated is used when published is missing")
}

func TestParser_JSON(t *testing.T) {
	items, err := NewParser().Parse(testSource, []byte(jsonFeed))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "j-1", items[0].GUID)
	assert.Equal(t, "Json One", items[0].Title)
	assert.Equal(t, "https://example.com/j1", items[0].Link)
}

func TestParser_EmptyFeedIsNotAnError(t *testing.T) {
	items, err := NewParser().Parse(testSource, []byte(`<rss version="2.0"><channel><title>Empty</title></channel></rss>`))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParser_DuplicateGUIDsKeepFirst(t *testing.T) {
	data := `<rss version="2.0"><channel><title>Dup</title>
<item><title>A</title><link>https://example.com/a</link><guid>same</guid></item>
<item><title>B</title><link>https://example.com/b</link><guid>same</guid></item>
</channel></rss>`

	items, err := NewParser().Parse(testSource, []byte(data))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].Title)
}

func TestParser_EncodingQuirks(t *testing.T) {
	data := "\xef\xbb\xbf<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<rss version=\"2.0\"><channel><title>Quirks</title>" +
		"<item><title>Café\x0b</title><link>https://example.com/q</link><guid>q-1</guid></item>" +
		"</channel></rss>"

	items, err := NewParser().Parse(testSource, []byte(data))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Café", items[0].Title, "BOM and control bytes are dropped and text is NFC normalised")
}

func TestParser_FormatOverride(t *testing.T) {
	src := testSource
	src.Format = model.FormatAtom

	_, err := NewParser().Parse(src, []byte(rssFeed))

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "example", pe.Source.ID)
}

func TestParser_Unrecognised(t *testing.T) {
	for _, data := range []string{"", "this is not a feed", `{"hello": "world"`} {
		_, err := NewParser().Parse(testSource, []byte(data))

		var pe *ParseError
		require.ErrorAs(t, err, &pe, "input %q", data)
	}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, model.FormatRSS, Detect([]byte(rssFeed)))
	assert.Equal(t, model.FormatAtom, Detect([]byte(atomFeed)))
	assert.Equal(t, model.FormatJSON, Detect([]byte(jsonFeed)))
	assert.Equal(t, model.FormatAuto, Detect([]byte("plain text")))
}

func TestFallbackGUID(t *testing.T) {
	a := FallbackGUID("t", "l", "p")
	assert.Equal(t, a, FallbackGUID("t", "l", "p"))
	assert.NotEqual(t, a, FallbackGUID("t", "l", ""))
	assert.Len(t, a, len("sha256:")+64)
}

func TestNormalizeLenient_FallbackGUIDIncludesDate(t *testing.T) {
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	dated, ok := normalizeLenient("f", &slyrss.Item{Title: "Post", Link: "https://example.com/p", Date: date})
	require.True(t, ok)
	undated, ok := normalizeLenient("f", &slyrss.Item{Title: "Post", Link: "https://example.com/p"})
	require.True(t, ok)

	assert.Equal(t, FallbackGUID("Post", "https://example.com/p", "2024-03-01T09:00:00Z"), dated.GUID)
	assert.Equal(t, FallbackGUID("Post", "https://example.com/p", ""), undated.GUID)
	assert.NotEqual(t, dated.GUID, undated.GUID)
	require.NotNil(t, dated.PublishedAt)
	assert.True(t, dated.PublishedAt.Equal(date))
	assert.Nil(t, undated.PublishedAt)
}

func TestNormalizeLenient_KeepsFeedGUID(t *testing.T) {
	item, ok := normalizeLenient("f", &slyrss.Item{ID: "urn:1", Title: "Post", Summary: "<p>hi</p>"})
	require.True(t, ok)
	assert.Equal(t, "urn:1", item.GUID)
	assert.Equal(t, "<p>hi</p>", item.RawSummary)

	_, ok = normalizeLenient("f", &slyrss.Item{ID: "urn:2"})
	assert.False(t, ok)
}
