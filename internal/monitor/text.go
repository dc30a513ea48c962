package monitor

import (
	"bytes"
	"context"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"linkvault/internal/models"
)

// Similarity bands, inclusive on the lower bound.
const (
	OKThreshold    = 0.95
	MinorThreshold = 0.80
)

// Classify maps a similarity ratio onto a content_diff status.
func Classify(ratio float64) string {
	switch {
	case ratio >= OKThreshold:
		return models.StatusOK
	case ratio >= MinorThreshold:
		return models.StatusMinorChanges
	default:
		return models.StatusMajorChanges
	}
}

// VisibleText returns the human-readable text of an HTML document with
// markup, scripts and styles removed and whitespace collapsed. Input that
// does not parse is returned as-is.
func VisibleText(doc []byte) string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return string(doc)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(strings.Fields(b.String()), " ")
}

// maxCompareWords bounds each side of a comparison. Longer texts are
// compared on their leading words only.
const maxCompareWords = 2000

// Similarity is the sequence-matching ratio of two texts compared word by
// word, in [0,1]. Two empty texts are identical. When the cheap upper bounds
// already fall below MinorThreshold the bound is returned instead of the
// exact ratio; the classification is the same. It gives up with ctx's error
// once ctx is done.
func Similarity(ctx context.Context, a, b string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wa, wb := leadingWords(a), leadingWords(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1, nil
	}

	m := difflib.NewMatcher(wa, wb)
	if r := m.RealQuickRatio(); r < MinorThreshold {
		return r, nil
	}
	if r := m.QuickRatio(); r < MinorThreshold {
		return r, nil
	}

	done := make(chan float64, 1)
	go func() { done <- m.Ratio() }()
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func leadingWords(s string) []string {
	words := strings.Fields(s)
	if len(words) > maxCompareWords {
		words = words[:maxCompareWords]
	}
	return words
}
