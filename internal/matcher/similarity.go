package matcher

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/fintally/tally/internal/model"
)

// PayeeSimilarity returns a similarity score in [0,1] between two raw
// payee strings. Both are normalized first; containment counts as a
// full match because bank descriptors routinely append store numbers
// and card suffixes to the merchant name.
func PayeeSimilarity(a, b string) float64 {
	na := model.NormalizePayee(a)
	nb := model.NormalizePayee(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 1
	}

	distance := levenshtein.DistanceForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1 - float64(distance)/float64(longest)
}
