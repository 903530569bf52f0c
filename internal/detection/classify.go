package detection

import (
	"strings"
	"unicode"

	"github.com/dharsanguruparan/catscan/internal/model"
)

// catKeywords mark a label as cat related when found anywhere in its name.
// Compound names such as "wildcat" and "bobcat" match through "cat".
var catKeywords = []string{
	"cat",
	"kitten",
	"kitty",
	"feline",
	"tabby",
	"lynx",
	"ocelot",
}

// catBreeds only count as whole words: "persian" alone is a cat, inside
// "Persian carpet" it is guarded by the context words below.
var catBreeds = []string{
	"siamese",
	"persian",
	"maine coon",
	"ragdoll",
	"sphynx",
	"abyssinian",
	"bengal",
	"burmese",
	"british shorthair",
	"scottish fold",
	"norwegian forest",
}

// falsePositives contain "cat" without naming one. A label matching any of
// these is never cat related.
var falsePositives = []string{
	"cattle",
	"catalog",
	"catalogue",
	"caterpillar",
	"cation", // vacation, education, location, communication
	"category",
	"catch",
	"cath", // cathedral, catholic, decathlon
	"catamaran",
	"catapult",
	"catering",
	"catfish",
	"catwalk",
	"catsup",
	"catbird",
	"catahoula",
	"polecat",
	"muscat",
	"scatter",
	"delicat",
	"duplicat",
	"certificat",
	"indicat",
	"allocat",
	"advocat",
}

// nonCatContext words name something else that borrows a cat word, as in
// "Siamese fighting fish" or "Persian rug".
var nonCatContext = map[string]bool{
	"carpet":  true,
	"carpets": true,
	"rug":     true,
	"rugs":    true,
	"fish":    true,
	"dog":     true,
	"textile": true,
	"twins":   true,
	"tiger":   true,
}

// IsCatLabel reports whether a detector label refers to a cat.
func IsCatLabel(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, fp := range falsePositives {
		if strings.Contains(n, fp) {
			return false
		}
	}
	words := strings.FieldsFunc(n, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if nonCatContext[w] {
			return false
		}
	}
	for _, kw := range catKeywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	padded := " " + strings.Join(words, " ") + " "
	for _, breed := range catBreeds {
		if strings.Contains(padded, " "+breed+" ") {
			return true
		}
	}
	return false
}

// Classify derives the COMPLETED result fields from the full label list.
// HighestConfidence is 0 when no label is cat related.
func Classify(labels []model.Label) model.Result {
	res := model.Result{
		Labels:    make([]model.Label, 0, len(labels)),
		CatLabels: []model.Label{},
	}
	for _, l := range labels {
		res.Labels = append(res.Labels, l)
		if !IsCatLabel(l.Name) {
			continue
		}
		res.CatLabels = append(res.CatLabels, l)
		if l.Confidence > res.HighestConfidence {
			res.HighestConfidence = l.Confidence
		}
	}
	res.CatCount = len(res.CatLabels)
	res.CatsFound = res.CatCount > 0
	return res
}
