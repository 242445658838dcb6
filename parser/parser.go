package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reads/models"
)

const (
	// MaxSynopsisLength is the number of characters kept before truncation.
	MaxSynopsisLength = 200
	// MaxFilenameLength bounds sanitized cover filenames.
	MaxFilenameLength = 100

	ellipsis = "..."
)

var (
	numberRe         = regexp.MustCompile(`\d+(?:\.\d+)?`)
	filenameReplacer = strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_", "|", "_",
		"?", "_", "*", "_", "/", "_", `\`, "_",
	)
)

// ValidateBook ensures the extractor captured the required fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if b.Rank <= 0 {
		return fmt.Errorf("book %q has invalid rank %d", b.Title, b.Rank)
	}
	return nil
}

// FirstNumber returns the first integer or decimal token found in text.
func FirstNumber(text string) (string, bool) {
	match := numberRe.FindString(text)
	return match, match != ""
}

// NormalizePrice reduces a price label to a currency-prefixed number.
func NormalizePrice(text string) string {
	number, ok := FirstNumber(text)
	if !ok {
		return models.UnknownValue
	}
	return models.CurrencyPrefix + number
}

// TruncateSynopsis caps the synopsis at MaxSynopsisLength characters.
func TruncateSynopsis(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxSynopsisLength {
		return text
	}
	return string(runes[:MaxSynopsisLength]) + ellipsis
}

// SanitizeFilename replaces characters that are unsafe in file names,
// strips leading and trailing spaces and dots, and truncates the result.
func SanitizeFilename(name string) string {
	name = filenameReplacer.Replace(name)
	name = strings.Trim(name, " .")
	runes := []rune(name)
	if len(runes) > MaxFilenameLength {
		name = string(runes[:MaxFilenameLength])
	}
	return name
}

// CoverFilename builds the on-disk name for a cover image.
func CoverFilename(rank int, title string) string {
	return strconv.Itoa(rank) + "_" + SanitizeFilename(title) + ".jpg"
}

// CleanCoverURL drops the thumbnail transform suffix (everything after "!").
func CleanCoverURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "!"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}

func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
