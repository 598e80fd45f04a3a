package priority

import (
	"slices"
	"strings"
	"unicode"
)

var abbreviations = map[string]string{
	"w/":  "with",
	"w/o": "without",
	"&":   "and",
	"f/u": "follow up",
	"mtg": "meeting",
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "to": {}, "of": {}, "for": {},
	"with": {}, "re": {}, "fw": {}, "fwd": {}, "on": {}, "in": {}, "at": {},
}

// tokenize lower-cases text, expands abbreviations and splits it into
// alphanumeric tokens. Stop words are kept.
func tokenize(text string) []string {
	var out []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if exp, ok := abbreviations[strings.TrimRight(field, ":,.;")]; ok {
			field = exp
		}
		out = append(out, strings.FieldsFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})...)
	}
	return out
}

// TitleTokens returns the normalized token set of a title used for
// near-duplicate matching.
func TitleTokens(title string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(title) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Similarity is the Jaccard index of the two titles' token sets. Two empty
// sets score 0.
func Similarity(a, b string) float64 {
	return jaccard(TitleTokens(a), TitleTokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// dedupCandidate reports whether it may act as canonical for a new item.
func dedupCandidate(it *Item) bool {
	return it.Canonical() && it.Status.Active()
}

// FindCanonical returns the best canonical active candidate whose title is
// at least threshold-similar to title, or nil. Ties go to the earliest
// CreatedAt, then the lowest id. Candidates should belong to one user.
func FindCanonical(candidates []*Item, title string, threshold float64) *Item {
	want := TitleTokens(title)
	var (
		best      *Item
		bestScore float64
	)
	for _, c := range candidates {
		if !dedupCandidate(c) {
			continue
		}
		s := jaccard(want, TitleTokens(c.Title))
		if s < threshold || s == 0 {
			continue
		}
		if best == nil || s > bestScore || (s == bestScore && earlier(c, best)) {
			best, bestScore = c, s
		}
	}
	return best
}

func earlier(a, b *Item) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// Rescan links pending near-duplicates to a canonical item of their
// cluster. Surfaced items take precedence as canonical regardless of age,
// then the earliest pending item. It only considers canonical active items
// and never links a surfaced item. The returned items had DedupGroup set
// and need saving.
func Rescan(items []*Item, threshold float64) []*Item {
	active := make([]*Item, 0, len(items))
	for _, it := range items {
		if dedupCandidate(it) {
			active = append(active, it)
		}
	}
	slices.SortFunc(active, func(a, b *Item) int {
		if as, bs := a.Status == StatusSurfaced, b.Status == StatusSurfaced; as != bs {
			if as {
				return -1
			}
			return 1
		}
		if earlier(a, b) {
			return -1
		}
		if earlier(b, a) {
			return 1
		}
		return 0
	})

	tokens := make([]map[string]struct{}, len(active))
	for i, it := range active {
		tokens[i] = TitleTokens(it.Title)
	}

	var linked []*Item
	canon := make([]int, 0, len(active))
	for i, it := range active {
		match := -1
		for _, j := range canon {
			if active[j].UserID != it.UserID {
				continue
			}
			if s := jaccard(tokens[i], tokens[j]); s >= threshold && s > 0 {
				match = j
				break
			}
		}
		if match < 0 || it.Status != StatusPending {
			canon = append(canon, i)
			continue
		}
		it.DedupGroup = active[match].ID
		linked = append(linked, it)
	}
	return linked
}
