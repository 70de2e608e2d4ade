// Package gateway talks to the audio fingerprint recognition provider.
//
// The provider receives a URL to the audio, fingerprints it server-side, and
// answers with the commercially registered works it recognized. The raw
// response body is handed back verbatim alongside the normalized matches so
// the caller can archive it as review evidence.
package gateway

import (
	"context"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/ratelimit"
)

const (
	// Provider bills per request; keep outbound pressure modest.
	defaultRPS   = 2.0
	defaultBurst = 3

	defaultTimeout = 60 * time.Second
)

// Config configures the provider client.
type Config struct {
	// URL is the provider scan endpoint.
	URL string
	// APIToken authenticates the request.
	APIToken string
	// Timeout bounds one recognition call. Zero means defaultTimeout.
	Timeout time.Duration
	// RequestsPerSecond and Burst throttle outbound calls.
	// Zero values fall back to the package defaults.
	RequestsPerSecond float64
	Burst             int
}

// Client is a rate-limited recognition provider client.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// New creates a new provider client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger,
	}
}

// Recognition is a normalized provider answer plus the verbatim payload.
type Recognition struct {
	Matches []domain.MatchCandidate
	Raw     []byte
}

// providerSong is one recognized work in the provider's response.
type providerSong struct {
	Artist   string  `json:"artist"`
	Title    string  `json:"title"`
	Album    string  `json:"album"`
	ISRC     string  `json:"isrc"`
	Timecode string  `json:"timecode"`
	Score    float64 `json:"score"`
}

// providerGroup is a run of matches at one offset within the scanned audio.
type providerGroup struct {
	Offset string         `json:"offset"`
	Songs  []providerSong `json:"songs"`
}

type providerResponse struct {
	Status string          `json:"status"`
	Error  *providerErr    `json:"error"`
	Result jsontext.Value `json:"result"`
}

type providerErr struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Recognize submits an audio URL for fingerprint recognition.
func (c *Client) Recognize(ctx context.Context, audioURL string) (*Recognition, error) {
	host := c.providerHost()
	if err := c.limiter.Wait(ctx, host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	form := url.Values{}
	form.Set("api_token", c.cfg.APIToken)
	form.Set("url", audioURL)
	form.Set("accurate_offsets", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Chorus-Moderation/1.0")

	c.logger.Debug("provider request", "host", host)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.CodeProviderTimeout, "recognition canceled")
		}
		if isTimeout(err) {
			return nil, errors.Wrap(err, errors.CodeProviderTimeout, "recognition timed out")
		}
		return nil, errors.Wrap(err, errors.CodeProviderUnavailable, "provider request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderUnavailable, "read provider response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.ProviderUnavailable(fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	matches, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	return &Recognition{Matches: matches, Raw: body}, nil
}

// parseResponse normalizes the provider payload. The result field is either
// null (no matches), a single song object, or offset groups of songs.
func parseResponse(body []byte) ([]domain.MatchCandidate, error) {
	var pr providerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderUnavailable, "malformed provider response")
	}

	if pr.Status != "success" {
		msg := "provider reported an error"
		if pr.Error != nil && pr.Error.ErrorMessage != "" {
			msg = pr.Error.ErrorMessage
		}
		return nil, errors.ProviderUnavailable(msg)
	}

	if len(pr.Result) == 0 || string(pr.Result) == "null" {
		return nil, nil
	}

	// Offset groups first; a plain object means a single song.
	var groups []providerGroup
	if err := json.Unmarshal(pr.Result, &groups); err == nil {
		var matches []domain.MatchCandidate
		for _, g := range groups {
			offsetMS := parseTimecodeMS(g.Offset)
			for _, song := range g.Songs {
				m := songToMatch(song)
				m.OffsetMS = offsetMS
				matches = append(matches, m)
			}
		}
		return matches, nil
	}

	var song providerSong
	if err := json.Unmarshal(pr.Result, &song); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderUnavailable, "malformed provider result")
	}
	return []domain.MatchCandidate{songToMatch(song)}, nil
}

func songToMatch(s providerSong) domain.MatchCandidate {
	confidence := s.Score
	if confidence <= 0 {
		// The primary recognition path omits a score; treat it as certain.
		confidence = 100
	}
	return domain.MatchCandidate{
		SourceArtist: s.Artist,
		SourceTitle:  s.Title,
		Confidence:   confidence,
		ExternalID:   s.ISRC,
		Album:        s.Album,
		Timecode:     s.Timecode,
	}
}

// parseTimecodeMS converts "mm:ss" or "hh:mm:ss" to milliseconds, 0 on
// anything unparseable.
func parseTimecodeMS(tc string) int64 {
	if tc == "" {
		return 0
	}

	parts := strings.Split(tc, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

func (c *Client) providerHost() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil || u.Host == "" {
		return c.cfg.URL
	}
	return u.Host
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
