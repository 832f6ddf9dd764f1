package model

// Palette used for embed colors.
const (
	ColorGreen  = 5874944
	ColorBlue   = 4886754
	ColorYellow = 16312092
	ColorRed    = 13632027
	ColorGrey   = 9807270
)

// Message is the body of an edit to the interaction's original response.
type Message struct {
	Content         string           `json:"content"`
	Embeds          []Embed          `json:"embeds"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// AllowedMentions controls which mentions in a message ping users.
type AllowedMentions struct {
	Parse []string `json:"parse"`
}

// NoPings suppresses notifications for every mention in a message.
func NoPings() *AllowedMentions {
	return &AllowedMentions{Parse: []string{}}
}

// Embed is one rich block of a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Thumbnail   *Image       `json:"thumbnail,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *Footer      `json:"footer,omitempty"`
}

// Image references a remote image.
type Image struct {
	URL string `json:"url"`
}

// EmbedField is a name/value pair rendered inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Footer is the small print under an embed.
type Footer struct {
	Text string `json:"text"`
}

// Clone returns a deep copy so callers can decorate a stored payload without
// mutating the original.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{Content: m.Content}
	if m.AllowedMentions != nil {
		out.AllowedMentions = &AllowedMentions{Parse: append([]string{}, m.AllowedMentions.Parse...)}
	}
	out.Embeds = make([]Embed, len(m.Embeds))
	for i, e := range m.Embeds {
		c := e
		if e.Thumbnail != nil {
			img := *e.Thumbnail
			c.Thumbnail = &img
		}
		if e.Footer != nil {
			f := *e.Footer
			c.Footer = &f
		}
		c.Fields = append([]EmbedField(nil), e.Fields...)
		out.Embeds[i] = c
	}
	return out
}

// Delivered is what the lifecycle manager keeps for a published result.
type Delivered struct {
	Message   Message `json:"message"`
	MessageID string  `json:"message_id,omitempty"`
	ChannelID string  `json:"channel_id,omitempty"`
}
