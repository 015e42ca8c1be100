package dispatcher

import (
	"math/rand"
	"regexp"
	"strings"

	"github.com/peyk-io/peyk/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderTemplate substitutes {{placeholder}} tokens in the template body
// with recipient fields. "name" and "phone" come from the recipient row,
// any other token from its attributes. Unmatched tokens render empty.
func RenderTemplate(content string, recipient *models.Recipient) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(token string) string {
		key := placeholderPattern.FindStringSubmatch(token)[1]
		switch key {
		case "name":
			return recipient.Name
		case "phone":
			return recipient.Phone
		}
		if v, ok := recipient.Attributes[key]; ok {
			return v
		}
		return ""
	})
}

// Invisible characters appended to vary otherwise identical message
// bodies so bulk sends look less uniform to automated filters.
var variationRunes = []rune{'​', '‌', '⁠'}

// VariationSuffix returns one to three invisible runes chosen by rnd
func VariationSuffix(rnd *rand.Rand) string {
	var b strings.Builder
	n := 1 + rnd.Intn(3)
	for i := 0; i < n; i++ {
		b.WriteRune(variationRunes[rnd.Intn(len(variationRunes))])
	}
	return b.String()
}
