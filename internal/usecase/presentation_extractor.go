package usecase

import (
	"regexp"
	"strings"
)

// presentationPatterns are tried in order against the lower-cased product name.
// Multi-pack comes first so "2 x 500 g" is not read as a bare count.
var presentationPatterns = []*regexp.Regexp{
	// 2 x 500 g, 6x1 l, 3 x 100
	regexp.MustCompile(`\d+\s*x\s*\d+(?:[.,]\d+)?(?:\s*(?:kilogramos|kilogramo|kg|gramos|gramo|gr|g|mililitros|mililitro|ml|litros|litro|lt|l)\b)?`),
	// mass
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:kilogramos|kilogramo|kg)\b`),
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:gramos|gramo|gr|g)\b`),
	// volume, millilitres before litres
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:mililitros|mililitro|ml)\b`),
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:litros|litro|lt|l)\b`),
	// counts
	regexp.MustCompile(`\d+\s*(?:unidades|unidad|unds|und|uds|un)\b`),
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:paquetes|paquete|packs|pack)\b`),
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:rollos|rollo)\b`),
}

// ExtractPresentation returns the package-size token of a product name, e.g. "500 g".
// The boolean is false when no pattern matches; that is a normal result.
func ExtractPresentation(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	lower := strings.ToLower(name)
	for _, pattern := range presentationPatterns {
		if match := pattern.FindString(lower); match != "" {
			return match, true
		}
	}
	return "", false
}
