package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	slyrss "github.com/SlyMarbo/rss"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	jsonfeed "github.com/mmcdole/gofeed/json"
	gofeedrss "github.com/mmcdole/gofeed/rss"
	"github.com/samber/lo"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

var errUnrecognised = errors.New("content is not a recognised feed format")

// Parser turns raw feed bytes into items. The set of formats is closed: RSS, Atom and JSON Feed via gofeed,
// chosen by the source's configured format or by sniffing, plus a lenient RSS/Atom reader used only when
// sniffing fails.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the items in feed-declared order. Items are unique by guid within the result; when a feed repeats
// a guid the first occurrence wins.
func (p *Parser) Parse(src model.FeedSource, raw []byte) ([]model.Item, error) {
	data := prepare(raw)

	format := src.Format
	if format == model.FormatAuto {
		format = Detect(data)
	}

	var (
		items []model.Item
		err   error
	)
	switch format {
	case model.FormatRSS, model.FormatAtom, model.FormatJSON:
		items, err = parseStandard(src.ID, format, data)
	default:
		items, err = parseLenient(src.ID, data)
	}
	if err != nil {
		return nil, &ParseError{Source: src, Cause: err}
	}

	return lo.UniqBy(items, func(item model.Item) string { return item.GUID }), nil
}

// Detect sniffs the feed format, returning FormatAuto when the content is not recognised.
func Detect(data []byte) model.Format {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		return model.FormatRSS
	case gofeed.FeedTypeAtom:
		return model.FormatAtom
	case gofeed.FeedTypeJSON:
		return model.FormatJSON
	default:
		return model.FormatAuto
	}
}

func parseStandard(feedID string, format model.Format, data []byte) ([]model.Item, error) {
	feed, err := translate(format, data)
	if err != nil {
		return nil, err
	}

	items := lo.FilterMap(feed.Items, func(item *gofeed.Item, _ int) (model.Item, bool) {
		if item == nil {
			return model.Item{}, false
		}
		return normalize(feedID, item)
	})

	return items, nil
}

func translate(format model.Format, data []byte) (*gofeed.Feed, error) {
	r := bytes.NewReader(data)

	switch format {
	case model.FormatRSS:
		f, err := (&gofeedrss.Parser{}).Parse(r)
		if err != nil {
			return nil, fmt.Errorf("rss: %w", err)
		}
		return (&gofeed.DefaultRSSTranslator{}).Translate(f)
	case model.FormatAtom:
		f, err := (&atom.Parser{}).Parse(r)
		if err != nil {
			return nil, fmt.Errorf("atom: %w", err)
		}
		return (&gofeed.DefaultAtomTranslator{}).Translate(f)
	case model.FormatJSON:
		f, err := (&jsonfeed.Parser{}).Parse(r)
		if err != nil {
			return nil, fmt.Errorf("json feed: %w", err)
		}
		return (&gofeed.DefaultJSONTranslator{}).Translate(f)
	default:
		return nil, errUnrecognised
	}
}

func normalize(feedID string, item *gofeed.Item) (model.Item, bool) {
	title := cleanText(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" && link == "" {
		return model.Item{}, false
	}

	published := strings.TrimSpace(item.Published)
	publishedAt := item.PublishedParsed
	if publishedAt == nil {
		publishedAt = item.UpdatedParsed
		if published == "" {
			published = strings.TrimSpace(item.Updated)
		}
	}
	if publishedAt != nil {
		t := publishedAt.UTC()
		publishedAt = &t
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	guid := cleanText(item.GUID)
	if guid == "" {
		guid = FallbackGUID(title, link, published)
	}

	return model.Item{
		FeedID:      feedID,
		GUID:        guid,
		Title:       title,
		Link:        link,
		PublishedAt: publishedAt,
		RawSummary:  strings.TrimSpace(strings.ToValidUTF8(summary, "")),
	}, true
}

// parseLenient is the last resort for content gofeed cannot sniff. Such content is only accepted when it yields
// at least one item.
func parseLenient(feedID string, data []byte) ([]model.Item, error) {
	feed, err := slyrss.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnrecognised, err)
	}
	if feed == nil || len(feed.Items) == 0 {
		return nil, errUnrecognised
	}

	return lo.FilterMap(feed.Items, func(item *slyrss.Item, _ int) (model.Item, bool) {
		return normalizeLenient(feedID, item)
	}), nil
}

func normalizeLenient(feedID string, item *slyrss.Item) (model.Item, bool) {
	if item == nil {
		return model.Item{}, false
	}

	title := cleanText(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" && link == "" {
		return model.Item{}, false
	}

	var (
		publishedAt *time.Time
		published   string
	)
	if !item.Date.IsZero() {
		t := item.Date.UTC()
		publishedAt = &t
		published = t.Format(time.RFC3339)
	}

	guid := cleanText(item.ID)
	if guid == "" {
		guid = FallbackGUID(title, link, published)
	}

	summary := item.Summary
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	return model.Item{
		FeedID:      feedID,
		GUID:        guid,
		Title:       title,
		Link:        link,
		PublishedAt: publishedAt,
		RawSummary:  strings.TrimSpace(strings.ToValidUTF8(summary, "")),
	}, true
}

// FallbackGUID derives a stable identifier for items that carry no guid. The published value is the raw string
// from the feed so that unparseable dates still hash deterministically.
func FallbackGUID(title, link, published string) string {
	sum := sha256.Sum256([]byte(title + "\n" + link + "\n" + published))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// prepare strips a byte order mark (decoding UTF-16 when one says so) and drops C0 control bytes that are illegal
// in XML. Dropping bytes rather than runes keeps legacy single-byte encodings intact for the XML decoder.
func prepare(raw []byte) []byte {
	data, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), raw)
	if err != nil {
		data = raw
	}

	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			continue
		}
		out = append(out, b)
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(strings.ToValidUTF8(s, "�")))
}
