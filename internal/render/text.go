package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"
)

// Mention renders a user mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// MentionPhrase joins mentions into an English list: "a", "a and b",
// "a, b, and c".
func MentionPhrase(userIDs []string) string {
	mentions := make([]string, len(userIDs))
	for i, id := range userIDs {
		mentions[i] = Mention(id)
	}
	return Sentence(mentions)
}

// Sentence joins words into an English list with an Oxford comma.
func Sentence(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	case 2:
		return words[0] + " and " + words[1]
	default:
		return strings.Join(words[:len(words)-1], ", ") + ", and " + words[len(words)-1]
	}
}

// Plural returns word, or word+"s" unless count is exactly one.
func Plural(count int, word string) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

// Minutes renders a remaining duration rounded up to whole minutes, never
// negative: "1 minute", "5 minutes".
func Minutes(d time.Duration) string {
	n := int(math.Ceil(d.Minutes()))
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%d %s", n, Plural(n, "minute"))
}

// DisplayName normalizes a user-supplied display name for embedding.
func DisplayName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// RequestorPhrase is the footer naming who asked.
func RequestorPhrase(name string) string {
	name = DisplayName(name)
	if name == "" {
		return "requested by unknown"
	}
	return "requested by @" + name
}

var printer = message.NewPrinter(language.English)

// Hours renders minutes as hours with one decimal and locale grouping.
func Hours(minutes int) string {
	return printer.Sprintf("%.1f hrs", float64(minutes)/60)
}
