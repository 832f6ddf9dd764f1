package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/gamesincommon/internal/gate"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/scoring"
)

// CountdownSeparator joins the requestor footer and the countdown.
const CountdownSeparator = " | "

const (
	authTimedOutText = "*(authorization timed out or declined)*"
	noAccountText    = "*(no linked Steam account)*"
	offlineText      = "*(never came online)*"
)

// Renderer holds the links embedded in progress notices.
type Renderer struct {
	AuthorizeURL string
	PrivacyURL   string
}

// New creates a Renderer.
func New(authorizeURL, privacyURL string) *Renderer {
	return &Renderer{AuthorizeURL: authorizeURL, PrivacyURL: privacyURL}
}

// Placeholder is the immediate response to the slash command.
func (r *Renderer) Placeholder(participants []string) *model.Message {
	return &model.Message{
		Content:         fmt.Sprintf("Checking for authorization from %s...", MentionPhrase(participants)),
		Embeds:          []model.Embed{},
		AllowedMentions: model.NoPings(),
	}
}

// Waiting explains which participants are blocking and why. left is the time
// remaining before the request expires.
func (r *Renderer) Waiting(sess *model.Session, reason gate.Reason, users []string, left time.Duration) *model.Message {
	count := len(users)
	mentions := MentionPhrase(users)
	blurb := r.timerBlurb(left)

	var title, description string
	color := model.ColorBlue
	switch reason {
	case gate.AwaitingPresence:
		title = "Waiting for players"
		description = fmt.Sprintf("Waiting for %s to come online.\n\n%s", mentions, blurb)
	case gate.MissingAuthorization:
		title = "Authorization needed"
		description = fmt.Sprintf(
			"%s must authorize `/gamesincommon` to pull their linked Steam %s.\n\nPlease [click here](%s) to authorize. %s",
			mentions, Plural(count, "ID"), r.AuthorizeURL, blurb)
	default:
		verb := "haven't"
		if count == 1 {
			verb = "hasn't"
		}
		title = fmt.Sprintf("Missing Steam %s!", Plural(count, "account"))
		description = fmt.Sprintf(
			"%s %s linked their Steam %s.\n\nPlease link your account in User Settings > Connections > Steam. %s",
			mentions, verb, Plural(count, "account"), blurb)
		color = model.ColorYellow
	}

	return status(model.Embed{
		Title:       title,
		Description: description,
		Color:       color,
		Footer:      requestorFooter(sess),
	})
}

func (r *Renderer) timerBlurb(left time.Duration) string {
	return fmt.Sprintf("*(%s left | see my [privacy policy](%s))*", Minutes(left), r.PrivacyURL)
}

// Cancelled is the terminal notice for an interaction that ran out of time.
// sess may be nil when the session record itself has expired.
func (r *Renderer) Cancelled(sess *model.Session, reason gate.Reason, users []string) *model.Message {
	embed := model.Embed{
		Title: "Request cancelled.",
		Color: model.ColorRed,
	}
	if len(users) == 0 {
		embed.Description = "`/gamesincommon` ran out of time before it could start."
	} else {
		count := len(users)
		verb := "are"
		if count == 1 {
			verb = "is a"
		}
		embed.Description = fmt.Sprintf("%s %s party %s. Sadge.\n\n%s",
			MentionPhrase(users), verb, Plural(count, "pooper"), cancellationDetail(reason))
	}
	embed.Footer = requestorFooter(sess)
	return status(embed)
}

func cancellationDetail(reason gate.Reason) string {
	switch reason {
	case gate.AwaitingPresence:
		return offlineText
	case gate.MissingAuthorization:
		return authTimedOutText
	default:
		return noAccountText
	}
}

// Fetching is published once the group is ready and library data is being
// gathered.
func (r *Renderer) Fetching(sess *model.Session) *model.Message {
	return status(model.Embed{
		Title:  "Fetching game libraries…",
		Color:  model.ColorBlue,
		Footer: requestorFooter(sess),
	})
}

// Result renders a non-empty ranking. The first embed carries the footer
// that countdowns extend.
func (r *Renderer) Result(sess *model.Session, ranked []scoring.Ranked) *model.Message {
	title := fmt.Sprintf("Top %d %s in common by %s", len(ranked), Plural(len(ranked), "game"), sess.Metric.Label())
	header := model.Embed{
		Title:       title,
		Description: "For " + MentionPhrase(sess.Participants),
		Color:       model.ColorGreen,
		Footer:      requestorFooter(sess),
	}
	embeds := []model.Embed{header}
	for i, entry := range ranked {
		embeds = append(embeds, gameEmbed(i+1, sess, entry))
	}
	return &model.Message{Content: "", Embeds: embeds, AllowedMentions: model.NoPings()}
}

func gameEmbed(position int, sess *model.Session, entry scoring.Ranked) model.Embed {
	game := entry.Game
	embed := model.Embed{
		Title: fmt.Sprintf("%d. %s", position, game.Name),
		URL:   storeURL(game),
		Color: model.ColorGreen,
	}
	if game.HeaderImage != "" {
		embed.Thumbnail = &model.Image{URL: game.HeaderImage}
	}

	lines := make([]string, 0, len(sess.Participants))
	for _, id := range sess.Participants {
		p := entry.PerUser[id]
		line := fmt.Sprintf("%s: %s", Mention(id), Hours(p.TotalMinutes))
		if p.RecentMinutes > 0 {
			line += fmt.Sprintf(" (%s recently)", Hours(p.RecentMinutes))
		}
		lines = append(lines, line)
	}
	embed.Fields = append(embed.Fields, model.EmbedField{
		Name:  "Playtime",
		Value: strings.Join(lines, "\n"),
	})

	if game.Rating != nil {
		value := strconv.Itoa(*game.Rating)
		if game.RatingURL != "" {
			value = fmt.Sprintf("[%d](%s)", *game.Rating, game.RatingURL)
		}
		embed.Fields = append(embed.Fields, model.EmbedField{Name: "Metascore", Value: value, Inline: true})
	}
	if sess.Metric.UsesAchievements() {
		embed.Fields = append(embed.Fields, model.EmbedField{
			Name:   "Shared achievements",
			Value:  fmt.Sprintf("%.0f%%", entry.Score*sign(sess.Metric)*100),
			Inline: true,
		})
	}
	return embed
}

func sign(metric model.SortMetric) float64 {
	if metric.Inverted() {
		return -1
	}
	return 1
}

func storeURL(game scoring.Game) string {
	if game.StoreURL != "" {
		return game.StoreURL
	}
	return fmt.Sprintf("https://store.steampowered.com/app/%d", game.ID)
}

// NoCandidates is the distinct outcome for a group with nothing in common.
func (r *Renderer) NoCandidates(sess *model.Session) *model.Message {
	description := fmt.Sprintf("%s don't have any multiplayer games in common.", MentionPhrase(sess.Participants))
	switch sess.Metric {
	case model.FewestAchievements:
		description = fmt.Sprintf("%s don't have any multiplayer games with achievements in common.", MentionPhrase(sess.Participants))
	case model.LowestRating:
		description = fmt.Sprintf("%s don't have any rated multiplayer games in common.", MentionPhrase(sess.Participants))
	}
	return status(model.Embed{
		Title:       "No games in common",
		Description: description,
		Color:       model.ColorYellow,
		Footer:      requestorFooter(sess),
	})
}

// Error is the terminal notice for a claimed attempt that failed.
func (r *Renderer) Error(sess *model.Session) *model.Message {
	return status(model.Embed{
		Title:       "Something went wrong",
		Description: "`/gamesincommon` couldn't finish this request. Please try again in a bit.",
		Color:       model.ColorRed,
		Footer:      requestorFooter(sess),
	})
}

// Deleted is the redaction notice that replaces a delivered result.
// byWhom completes the sentence "... deleted <byWhom>."
func (r *Renderer) Deleted(sess *model.Session, byWhom string) *model.Message {
	description := fmt.Sprintf("`/gamesincommon` results for %s deleted %s.", MentionPhrase(sess.Participants), byWhom)
	return status(model.Embed{
		Title:       "Results deleted",
		Description: description,
		Color:       model.ColorGrey,
		Footer:      requestorFooter(sess),
	})
}

// DeletedBy phrases a manual deletion.
func DeletedBy(userID string) string {
	return "by " + Mention(userID)
}

// DeletedAutomatically phrases the deadline deletion.
func DeletedAutomatically(after time.Duration) string {
	return "automatically after " + Minutes(after)
}

// WithCountdown returns a copy of a delivered result whose first footer
// announces the remaining lifetime.
func WithCountdown(delivered *model.Message, left time.Duration) *model.Message {
	msg := delivered.Clone()
	if len(msg.Embeds) == 0 {
		msg.Embeds = []model.Embed{{}}
	}
	countdown := "results will self-destruct in " + Minutes(left)
	first := &msg.Embeds[0]
	if first.Footer == nil || first.Footer.Text == "" {
		first.Footer = &model.Footer{Text: countdown}
	} else {
		first.Footer.Text += CountdownSeparator + countdown
	}
	return msg
}

func requestorFooter(sess *model.Session) *model.Footer {
	name := ""
	if sess != nil {
		name = sess.Requester.Name
	}
	return &model.Footer{Text: RequestorPhrase(name)}
}

func status(embed model.Embed) *model.Message {
	return &model.Message{
		Content:         "",
		Embeds:          []model.Embed{embed},
		AllowedMentions: model.NoPings(),
	}
}
