package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/roach88/gamesincommon/internal/model"
)

// DefaultDiscordAPI is the versioned REST base URL.
const DefaultDiscordAPI = "https://discord.com/api/v10"

// Rate limit headers on every response.
const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
)

// DiscordClient talks to the chat platform's REST API. It implements
// Messenger and Reactor.
type DiscordClient struct {
	http  *resty.Client
	appID string
}

// DiscordOption configures a DiscordClient.
type DiscordOption func(*resty.Client)

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(url string) DiscordOption {
	return func(c *resty.Client) { c.SetBaseURL(url) }
}

// WithHTTPTimeout bounds each request.
func WithHTTPTimeout(d time.Duration) DiscordOption {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// NewDiscordClient creates a client for the given application.
func NewDiscordClient(appID, botToken string, opts ...DiscordOption) *DiscordClient {
	c := resty.New().
		SetBaseURL(DefaultDiscordAPI).
		SetTimeout(10*time.Second).
		SetHeader("User-Agent", "gamesincommon (https://github.com/roach88/gamesincommon, 1.0)")
	if botToken != "" {
		c.SetHeader("Authorization", "Bot "+botToken)
	}
	for _, opt := range opts {
		opt(c)
	}
	return &DiscordClient{http: c, appID: appID}
}

type messageBody struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

// EditOriginal PATCHes the interaction's original response. Non-2xx
// statuses are reported in the Response, not as errors.
func (c *DiscordClient) EditOriginal(ctx context.Context, token string, msg *model.Message) (*Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParams(map[string]string{"app": c.appID, "token": token}).
		SetBody(body).
		Patch("/webhooks/{app}/{token}/messages/@original")
	if err != nil {
		return nil, fmt.Errorf("edit original: %w", err)
	}

	resp := &Response{
		Status: res.StatusCode(),
		Quota:  parseQuota(res.Header()),
	}
	switch {
	case resp.OK():
		var m messageBody
		if err := json.Unmarshal(res.Body(), &m); err == nil {
			resp.MessageID, resp.ChannelID = m.ID, m.ChannelID
		}
	case resp.Status == http.StatusTooManyRequests:
		resp.RetryAfter = parseRetryAfter(res.Header(), res.Body())
		resp.Body = string(res.Body())
	default:
		resp.Body = string(res.Body())
	}
	return resp, nil
}

// AddReaction adds the bot's reaction to a message.
func (c *DiscordClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.reaction(ctx, http.MethodPut, channelID, messageID, emoji)
}

// RemoveOwnReaction removes the bot's reaction from a message.
func (c *DiscordClient) RemoveOwnReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.reaction(ctx, http.MethodDelete, channelID, messageID, emoji)
}

func (c *DiscordClient) reaction(ctx context.Context, method, channelID, messageID, emoji string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"channel": channelID, "message": messageID, "emoji": emoji}).
		Execute(method, "/channels/{channel}/messages/{message}/reactions/{emoji}/@me")
	if err != nil {
		return fmt.Errorf("%s reaction: %w", method, err)
	}
	if res.IsError() {
		return &UpstreamError{Code: ErrCodeUpstreamFatal, Status: res.StatusCode(), Body: string(res.Body())}
	}
	return nil
}

// RegisterCommand creates or overwrites the slash command definition,
// globally or for one guild.
func (c *DiscordClient) RegisterCommand(ctx context.Context, guildID string, definition []byte) error {
	path := "/applications/{app}/commands"
	params := map[string]string{"app": c.appID}
	if guildID != "" {
		path = "/applications/{app}/guilds/{guild}/commands"
		params["guild"] = guildID
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParams(params).
		SetBody(definition).
		Post(path)
	if err != nil {
		return fmt.Errorf("register command: %w", err)
	}
	if res.IsError() {
		return &UpstreamError{Code: ErrCodeUpstreamFatal, Status: res.StatusCode(), Body: string(res.Body())}
	}
	return nil
}

func parseQuota(h http.Header) *Quota {
	remaining, err := strconv.ParseInt(h.Get(headerRemaining), 10, 64)
	if err != nil {
		return nil
	}
	resetAfter, err := strconv.ParseFloat(h.Get(headerResetAfter), 64)
	if err != nil {
		return nil
	}
	return &Quota{Remaining: remaining, ResetAfter: seconds(resetAfter)}
}

func parseRetryAfter(h http.Header, body []byte) time.Duration {
	var rl rateLimitBody
	if err := json.Unmarshal(body, &rl); err == nil && rl.RetryAfter > 0 {
		return seconds(rl.RetryAfter)
	}
	if v, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil {
		return seconds(v)
	}
	return time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
