// Package catalog holds the static option sets requests are validated against.
package catalog

import (
	"slices"

	"github.com/samber/lo"
)

// Supported language tags, in display order.
var languages = []string{
	"Chinese", "English", "Japanese", "Korean",
	"German", "French", "Russian", "Portuguese",
	"Spanish", "Italian",
}

// Built-in speaker identities of the fixed-speaker model.
var speakers = map[string]string{
	"Vivian":   "Bright, slightly edgy young female voice (Chinese)",
	"Serena":   "Warm, gentle young female voice (Chinese)",
	"Uncle_Fu": "Seasoned male voice with a low, mellow timbre (Chinese)",
	"Dylan":    "Youthful Beijing male voice with a clear, natural timbre (Chinese, Beijing dialect)",
	"Eric":     "Lively Chengdu male voice with a slightly husky brightness (Chinese, Sichuan dialect)",
	"Ryan":     "Dynamic male voice with strong rhythmic drive (English)",
	"Aiden":    "Sunny American male voice with a clear midrange (English)",
	"Ono_Anna": "Playful Japanese female voice with a light, nimble timbre (Japanese)",
	"Sohee":    "Warm Korean female voice with rich emotion (Korean)",
}

// LanguageSet is the read-only set of supported language tags.
type LanguageSet struct {
	ordered []string
}

// Languages returns the process-wide language set.
func Languages() LanguageSet {
	return LanguageSet{ordered: languages}
}

// Contains reports whether tag is a supported language.
func (s LanguageSet) Contains(tag string) bool {
	return slices.Contains(s.ordered, tag)
}

// List returns a copy of the supported tags in display order.
func (s LanguageSet) List() []string {
	return slices.Clone(s.ordered)
}

// SpeakerCatalog maps speaker ids to human-readable descriptions.
type SpeakerCatalog struct {
	entries map[string]string
}

// Speakers returns the process-wide speaker catalog.
func Speakers() SpeakerCatalog {
	return SpeakerCatalog{entries: speakers}
}

// Has reports whether id names a known speaker.
func (c SpeakerCatalog) Has(id string) bool {
	_, ok := c.entries[id]

	return ok
}

// IDs returns the speaker ids in lexical order.
func (c SpeakerCatalog) IDs() []string {
	ids := lo.Keys(c.entries)
	slices.Sort(ids)

	return ids
}

// Describe returns a copy of the id -> description mapping.
func (c SpeakerCatalog) Describe() map[string]string {
	return lo.Assign(c.entries)
}
