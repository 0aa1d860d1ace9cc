package media

import (
	"context"
	"regexp"
	"strings"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var _ ports.TermExtractor = KeywordTerms{}

var (
	DefaultTerms  = []string{"scenery", "people", "city", "nature", "business", "technology"}
	filenameExtra = []string{"nature", "landscape", "people", "business"}

	filenameSeparators = regexp.MustCompile(`[_\-]`)
)

// KeywordTerms returns the caller's terms, or derives them from the uploaded
// script file name, or falls back to a generic keyword set.
type KeywordTerms struct{}

func (KeywordTerms) Terms(_ context.Context, _ string, p domain.VideoParams) ([]string, error) {
	if len(p.VideoTerms) > 0 {
		return []string(p.VideoTerms), nil
	}
	if p.OriginalFilename != "" {
		return filenameTerms(p.OriginalFilename), nil
	}
	return append([]string(nil), DefaultTerms...), nil
}

func filenameTerms(name string) []string {
	base := strings.TrimSuffix(name, ".txt")
	words := strings.Fields(filenameSeparators.ReplaceAllString(base, " "))
	return append(words, filenameExtra...)
}
