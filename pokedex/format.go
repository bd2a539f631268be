package pokedex

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const artworkBase = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/other/official-artwork/"

// ImageURL returns the official artwork URL for a Pokémon id.
func ImageURL(id int) string {
	return artworkBase + strconv.Itoa(id) + ".png"
}

// FormatName upper-cases the first letter and turns the first hyphen after it
// into a space: "mr-mime" => "Mr mime".
func FormatName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(r)) + strings.Replace(name[size:], "-", " ", 1)
}

var typeColors = map[string]string{
	"normal":   "gray",
	"fire":     "red",
	"water":    "blue",
	"electric": "yellow",
	"grass":    "green",
	"ice":      "cyan",
	"fighting": "red",
	"poison":   "purple",
	"ground":   "yellow",
	"flying":   "indigo",
	"psychic":  "pink",
	"bug":      "lime",
	"rock":     "yellow",
	"ghost":    "purple",
	"dragon":   "indigo",
	"dark":     "gray",
	"steel":    "gray",
	"fairy":    "pink",
}

// TypeColor maps a type name to a colour name; unknown types are "teal".
func TypeColor(typeName string) string {
	if c, ok := typeColors[typeName]; ok {
		return c
	}
	return "teal"
}
