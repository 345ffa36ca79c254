package entry

import (
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// weightBase is the top of the weight scale; earlier letters sort higher.
	weightBase = 800
	// bucketSize spreads each first letter so the second letter can break ties.
	bucketSize = 6
	// alphabetMax is the highest rank a letter can take.
	alphabetMax = 'z' - 'a'
	// padLetter fills in for names with fewer than two letters.
	padLetter = 'a'
)

// Weight computes the secondary sort key for a display name. Names that share
// their first two letters after normalisation get the same weight.
func Weight(name string) int {
	letters := []rune(NormalizeName(name))
	for len(letters) < 2 {
		letters = append(letters, padLetter)
	}

	first := letterRank(letters[0])
	second := letterRank(letters[1])
	score := first*bucketSize + (second+bucketSize/2)/bucketSize
	return weightBase - score
}

// NormalizeName strips accents and non-letters and lowercases the result.
func NormalizeName(name string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.NotIn(unicode.L)),
		norm.NFC,
	)
	lowered := cases.Lower(language.Und).String(name)
	stripped, _, err := transform.String(t, lowered)
	if err != nil {
		return lowered
	}
	return stripped
}

func letterRank(r rune) int {
	rank := int(r - 'a')
	if rank < 0 {
		return 0
	}
	if rank > alphabetMax {
		return alphabetMax
	}
	return rank
}
