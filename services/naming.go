package services

import (
	"math/rand/v2"
	"strings"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const squadCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var titleCaser = cases.Title(language.English)

// randomSquadCode returns a short uppercase code for generated squad names.
func randomSquadCode(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(squadCodeAlphabet[rand.IntN(len(squadCodeAlphabet))])
	}
	return b.String()
}

// formingSquadName names a squad opened by squad formation, e.g. "Squad K7QX2M".
func formingSquadName() string {
	return "Squad " + randomSquadCode(6)
}

// duelSquadName names a one-member duel squad after its player.
func duelSquadName(displayName string) string {
	name := strings.TrimSpace(unidecode.Unidecode(displayName))
	if name == "" {
		return "Duelist " + randomSquadCode(4)
	}
	return titleCaser.String(name) + " (1v1)"
}

// squadSlug derives a URL-safe handle; the code suffix keeps handles unique
// across squads that share a display name.
func squadSlug(name string) string {
	return slug.Make(name + " " + strings.ToLower(randomSquadCode(4)))
}
