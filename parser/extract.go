// Package parser turns listing pages into book records.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-reads/models"
)

var (
	// ErrContainerNotFound means no listing container exists on the page.
	ErrContainerNotFound = errors.New("parser: listing container not found")
	// ErrListingLoading means the container only holds loading placeholders.
	ErrListingLoading = errors.New("parser: listing still loading")
	// ErrListingEmpty means the container holds neither entries nor placeholders.
	ErrListingEmpty = errors.New("parser: listing empty")

	errMissingTitle = errors.New("missing title")
)

const (
	entrySelector       = "li[data-works-id]"
	placeholderSelector = "li.works-item.is-loading"
	headingSelector     = "h4.title"
	titleLinkSelector   = "h4.title a"
	authorSelector      = "div.author"
	authorLinkSelector  = "a.author-link"
	introSelector       = ".intro"
	extraInfoSelector   = "div.extra-info"
	priceTagSelector    = ".price-tag"
	originalPriceSel    = "s, del, .original-price"
	discountPriceSel    = ".discount-price, .sale-price"
	categorySelector    = "a.category-link"
)

// containerStrategies are tried in order; the first match wins.
var containerStrategies = []struct {
	name     string
	selector string
}{
	{name: "react", selector: "div#react-root ul.works-list"},
	{name: "static", selector: "ul.works-list"},
}

type textStrategy func(*goquery.Selection) string

func childText(selector string) textStrategy {
	return func(s *goquery.Selection) string {
		return cleanText(s.Find(selector).First().Text())
	}
}

var titleStrategies = []textStrategy{
	childText(titleLinkSelector + " span.title-text"),
	childText(titleLinkSelector),
	childText(headingSelector),
}

// ImageStore downloads a cover and returns the stored filename.
type ImageStore interface {
	Store(ctx context.Context, imageURL string, rank int, title string) (string, error)
}

// Extractor builds book records from a parsed listing page.
type Extractor struct {
	logger  *slog.Logger
	images  ImageStore
	baseURL *url.URL
	now     func() time.Time
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for per-item diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithImageStore wires the cover image collaborator.
func WithImageStore(store ImageStore) Option {
	return func(e *Extractor) {
		e.images = store
	}
}

// WithBaseURL resolves relative links and image sources against base.
func WithBaseURL(base *url.URL) Option {
	return func(e *Extractor) {
		e.baseURL = base
	}
}

// WithClock overrides the timestamp source for ScrapedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor returns an extractor with the given options applied.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the books on one listing page in document order.
//
// Ranks are (page-1)*pageSize + position among the real entries, so an
// entry skipped for a missing title still consumes its rank.
func (e *Extractor) Extract(ctx context.Context, root *goquery.Selection, page, pageSize int) ([]*models.Book, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if root == nil {
		return nil, ErrContainerNotFound
	}

	container, layout := findContainer(root)
	if container == nil {
		e.logger.Debug("listing container not found", slog.Int("page", page))
		return nil, ErrContainerNotFound
	}
	e.logger.Debug("listing container found", slog.Int("page", page), slog.String("layout", layout))

	items := container.Find(entrySelector)
	if items.Length() == 0 {
		placeholders := container.Find(placeholderSelector).Length()
		e.logger.Debug("no real entries in container",
			slog.Int("page", page),
			slog.Int("placeholders", placeholders),
			slog.Int("li_total", container.Find("li").Length()),
		)
		if placeholders > 0 {
			return nil, ErrListingLoading
		}
		return nil, ErrListingEmpty
	}

	offset := (page - 1) * pageSize
	books := make([]*models.Book, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		rank := offset + i + 1
		book, err := e.extractItem(ctx, item, rank)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, errMissingTitle) {
				level = slog.LevelDebug
			}
			e.logger.Log(ctx, level, "skipping item",
				slog.Int("page", page),
				slog.Int("rank", rank),
				slog.Any("error", err),
			)
			return
		}
		book.Page = page
		books = append(books, book)
	})

	return books, nil
}

func findContainer(root *goquery.Selection) (*goquery.Selection, string) {
	for _, strategy := range containerStrategies {
		if found := root.Find(strategy.selector).First(); found.Length() > 0 {
			return found, strategy.name
		}
	}
	return nil, ""
}

func (e *Extractor) extractItem(ctx context.Context, item *goquery.Selection, rank int) (book *models.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			book = nil
			err = fmt.Errorf("extract item: %v", r)
		}
	}()

	title := firstText(item, titleStrategies)
	if title == "" {
		return nil, errMissingTitle
	}

	original, current := extractPrices(item)
	book = &models.Book{
		Rank:          rank,
		Title:         title,
		Author:        extractAuthor(item),
		Synopsis:      extractSynopsis(item),
		Categories:    extractCategories(item),
		WordCount:     extractWordCount(item),
		OriginalPrice: original,
		CurrentPrice:  current,
		URL:           e.absolute(item.Find(titleLinkSelector).First().AttrOr("href", "")),
		ScrapedAt:     e.now(),
	}
	book.CoverImage = e.coverImage(ctx, item, rank, title)
	return book, nil
}

func firstText(item *goquery.Selection, strategies []textStrategy) string {
	for _, strategy := range strategies {
		if text := strategy(item); text != "" {
			return text
		}
	}
	return ""
}

func extractAuthor(item *goquery.Selection) string {
	box := item.Find(authorSelector).First()
	if box.Length() == 0 {
		return models.UnknownAuthor
	}

	var authors []string
	box.Find(authorLinkSelector).Each(func(_ int, link *goquery.Selection) {
		if name := cleanText(link.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	if len(authors) > 0 {
		return strings.Join(authors, models.AuthorSep)
	}

	if text := cleanText(box.Text()); text != "" {
		return text
	}
	return models.UnknownAuthor
}

func extractSynopsis(item *goquery.Selection) string {
	text := cleanText(item.Find(introSelector).First().Text())
	if text == "" {
		return models.NoSynopsis
	}
	return TruncateSynopsis(text)
}

func extractWordCount(item *goquery.Selection) string {
	wordCount := models.UnknownValue
	item.Find(extraInfoSelector + " span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := cleanText(span.Text())
		if strings.Contains(text, models.WordCountMarker) {
			wordCount = text
			return false
		}
		return true
	})
	return wordCount
}

func extractPrices(item *goquery.Selection) (string, string) {
	tag := item.Find(priceTagSelector).First()
	if tag.Length() == 0 {
		return models.UnknownValue, models.UnknownValue
	}

	original := tag.Find(originalPriceSel).First()
	discount := tag.Find(discountPriceSel).First()
	if original.Length() > 0 && discount.Length() > 0 {
		return NormalizePrice(original.Text()), NormalizePrice(discount.Text())
	}

	price := NormalizePrice(tag.Text())
	return price, price
}

func extractCategories(item *goquery.Selection) []string {
	scope := item
	if extra := item.Find(extraInfoSelector).First(); extra.Find(categorySelector).Length() > 0 {
		scope = extra
	}

	var categories []string
	scope.Find(categorySelector).Each(func(_ int, link *goquery.Selection) {
		if label := cleanText(link.Text()); label != "" {
			categories = append(categories, label)
		}
	})
	return categories
}

func (e *Extractor) coverImage(ctx context.Context, item *goquery.Selection, rank int, title string) string {
	img := item.Find("img").First()
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" || e.images == nil {
		return models.NotDownloaded
	}

	full := e.absolute(CleanCoverURL(src))
	name, err := e.images.Store(ctx, full, rank, title)
	if err != nil || name == "" {
		e.logger.Warn("cover download failed",
			slog.Int("rank", rank),
			slog.String("url", full),
			slog.Any("error", err),
		)
		return models.NotDownloaded
	}
	return name
}

func (e *Extractor) absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || e.baseURL == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return e.baseURL.ResolveReference(parsed).String()
}
