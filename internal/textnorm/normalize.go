// Package textnorm rewrites request text into a form speech models read
// more reliably.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	numberBaseMillion  = 1000000

	// MaxNumberForWords is the largest integer spelled out in words.
	MaxNumberForWords = 999999999
)

const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\b\d{1,9}\b`
	whitespaceRegexPattern = `\s+`
	dotsRegexPattern       = `\.{4,}`

	placeholderMark = '\uF8FF'
	placeholderBase = 0xE000
)

// Normalizer holds the compiled patterns; it is safe for concurrent use.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	numberPattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp
	dotsPattern       *regexp.Regexp

	abbreviations *strings.Replacer
	typography    *strings.Replacer
	words         *numberConverter
}

// New compiles a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		dotsPattern:       regexp.MustCompile(dotsRegexPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
			"etc.", "et cetera",
			"e.g.", "for example",
			"i.e.", "that is",
		),
		typography: strings.NewReplacer(
			"—", "-", "–", "-", "‒", "-",
			"…", "...",
			"“", `"`, "”", `"`, "„", `"`,
			"‘", "'", "’", "'",
			"\u00a0", " ", "\u200b", "",
		),
		words: newNumberConverter(),
	}
}

// Normalize applies the rules for language. Whitespace, typography and
// repeated punctuation are handled for every language; abbreviations and
// numbers only for English.
func (n *Normalizer) Normalize(text, language string) string {
	if text == "" {
		return text
	}

	text = n.typography.Replace(text)
	text = n.whitespacePattern.ReplaceAllString(text, " ")

	if language == "English" {
		preserved, placeholders := n.preserveTokens(text)
		preserved = n.abbreviations.Replace(preserved)
		preserved = n.numberPattern.ReplaceAllStringFunc(preserved, n.spellNumber)
		text = restoreTokens(preserved, placeholders)
	}

	text = collapsePunctuation(text)
	text = n.dotsPattern.ReplaceAllString(text, "...")

	return strings.TrimSpace(text)
}

// preserveTokens swaps URLs and e-mail addresses for placeholders so the
// number and abbreviation rules cannot touch them.
func (n *Normalizer) preserveTokens(text string) (string, []string) {
	var originals []string

	for _, pattern := range []*regexp.Regexp{n.urlPattern, n.emailPattern} {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			originals = append(originals, match)

			return placeholder(len(originals) - 1)
		})
	}

	return text, originals
}

func restoreTokens(text string, originals []string) string {
	for i, original := range originals {
		text = strings.Replace(text, placeholder(i), original, 1)
	}

	return text
}

// placeholder uses private-use runes only, so no later rule can match it.
func placeholder(index int) string {
	return string([]rune{placeholderMark, rune(placeholderBase + index), placeholderMark})
}

func (n *Normalizer) spellNumber(digits string) string {
	value, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return n.words.toWords(value)
}

// collapsePunctuation reduces runs of one punctuation mark to a single mark.
// Dots are left alone so ellipses survive.
func collapsePunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == last && char != '.' && unicode.IsPunct(char) {
			continue
		}

		builder.WriteRune(char)
		last = char
	}

	return builder.String()
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return nc.ones[num]
	case num < numberBaseTwenty:
		return nc.teens[num-numberBaseTen]
	}

	result := nc.tens[num/numberBaseTen]
	if num%numberBaseTen > 0 {
		result += "-" + nc.ones[num%numberBaseTen]
	}

	return result
}

func (nc *numberConverter) underThousand(num int) string {
	if num < numberBaseHundred {
		return nc.underHundred(num)
	}

	result := nc.ones[num/numberBaseHundred] + " hundred"
	if remainder := num % numberBaseHundred; remainder > 0 {
		result += " " + nc.underHundred(remainder)
	}

	return result
}

// toWords spells 0..MaxNumberForWords in English words; other values are
// returned as digits.
func (nc *numberConverter) toWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if millions := number / numberBaseMillion; millions > 0 {
		parts = append(parts, nc.underThousand(millions)+" million")
	}

	if thousands := number / numberBaseThousand % numberBaseThousand; thousands > 0 {
		parts = append(parts, nc.underThousand(thousands)+" thousand")
	}

	if rest := number % numberBaseThousand; rest > 0 {
		parts = append(parts, nc.underThousand(rest))
	}

	return strings.Join(parts, " ")
}
