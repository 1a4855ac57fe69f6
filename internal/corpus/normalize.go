package corpus

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// Normalizer cleans record text before it reaches the oracle.
type Normalizer struct {
	stripHTML bool
}

// NewNormalizer returns a Normalizer; stripHTML removes markup such as the
// <i>, <sup> and <jats:p> tags common in publisher abstracts.
func NewNormalizer(stripHTML bool) *Normalizer {
	return &Normalizer{stripHTML: stripHTML}
}

// Clean applies NFC normalization, optional markup removal and whitespace
// collapsing.
func (n *Normalizer) Clean(value string) string {
	value = norm.NFC.String(value)
	if n != nil && n.stripHTML && strings.ContainsAny(value, "<&") {
		value = stripMarkup(value)
	}
	return strings.Join(strings.Fields(value), " ")
}

func stripMarkup(value string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(value))
	if err != nil {
		return value
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}
