package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	channelFetchTimeout = 30 * time.Second
	channelBatchSize    = 100
	channelMaxBatches   = 10
	channelBodyPreview  = 200
)

// ChannelSource monitors a chat stream through a Zulip-compatible REST API.
// Activity is grouped per topic: one item per topic that saw messages inside
// the lookback window, so a busy thread surfaces once rather than per message.
type ChannelSource struct {
	id       string
	site     string
	stream   string
	streamID int
	email    string
	apiKey   string
	lookback time.Duration
	client   *http.Client
}

// NewChannel creates a chat channel source. email and apiKey authenticate
// against the chat server's REST API.
func NewChannel(id, site, stream string, streamID int, email, apiKey string, lookback time.Duration) (*ChannelSource, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("channel: id is required")
	}
	if strings.TrimSpace(site) == "" {
		return nil, fmt.Errorf("channel %s: site is required", id)
	}
	if strings.TrimSpace(stream) == "" {
		return nil, fmt.Errorf("channel %s: stream is required", id)
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("channel %s: api credentials are required", id)
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &ChannelSource{
		id:       id,
		site:     strings.TrimRight(site, "/"),
		stream:   stream,
		streamID: streamID,
		email:    email,
		apiKey:   apiKey,
		lookback: lookback,
		client:   &http.Client{Timeout: channelFetchTimeout},
	}, nil
}

func (c *ChannelSource) ID() string {
	return c.id
}

func (c *ChannelSource) Type() Type {
	return TypeChannel
}

type channelMessage struct {
	ID        int64  `json:"id"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	Sender    string `json:"sender_full_name"`
	Timestamp int64  `json:"timestamp"`
}

type messagesResponse struct {
	Messages    []channelMessage `json:"messages"`
	FoundOldest bool             `json:"found_oldest"`
}

func (c *ChannelSource) Fetch(ctx context.Context) (Result, error) {
	since := time.Now().Add(-c.lookback)

	messages, err := c.fetchMessages(ctx, since)
	if err != nil {
		return Result{}, err
	}

	items := c.groupByTopic(messages)

	marker := ""
	if len(messages) > 0 {
		newest := messages[0].ID
		for _, m := range messages {
			if m.ID > newest {
				newest = m.ID
			}
		}
		marker = strconv.FormatInt(newest, 10)
	}

	return Result{Items: items, VersionMarker: marker}, nil
}

// fetchMessages pages backwards from the newest message until it crosses the
// since cutoff or the server reports the oldest message was reached.
func (c *ChannelSource) fetchMessages(ctx context.Context, since time.Time) ([]channelMessage, error) {
	narrow, err := json.Marshal([]map[string]string{{"operator": "stream", "operand": c.stream}})
	if err != nil {
		return nil, permanentErr(c.id, fmt.Errorf("encode narrow: %w", err))
	}

	var all []channelMessage
	seen := make(map[int64]bool)
	anchor := "newest"

	for batch := 0; batch < channelMaxBatches; batch++ {
		params := url.Values{}
		params.Set("anchor", anchor)
		params.Set("num_before", strconv.Itoa(channelBatchSize))
		params.Set("num_after", "0")
		params.Set("narrow", string(narrow))
		params.Set("apply_markdown", "false")

		resp, err := c.apiGet(ctx, "messages", params)
		if err != nil {
			return nil, err
		}

		crossed := false
		oldest := int64(0)
		for _, m := range resp.Messages {
			if oldest == 0 || m.ID < oldest {
				oldest = m.ID
			}
			if time.Unix(m.Timestamp, 0).Before(since) {
				crossed = true
				continue
			}
			// The anchor message comes back again in the next batch.
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}

		if crossed || resp.FoundOldest || len(resp.Messages) == 0 {
			break
		}
		anchor = strconv.FormatInt(oldest, 10)
	}

	return all, nil
}

func (c *ChannelSource) apiGet(ctx context.Context, endpoint string, params url.Values) (*messagesResponse, error) {
	reqURL := fmt.Sprintf("%s/api/v1/%s?%s", c.site, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, permanentErr(c.id, fmt.Errorf("build request: %w", err))
	}
	req.SetBasicAuth(c.email, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if Retryable(err) {
			return nil, retryableErr(c.id, err)
		}
		return nil, permanentErr(c.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(c.id, resp.StatusCode, fmt.Errorf("api %s: status %d", endpoint, resp.StatusCode))
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, permanentErr(c.id, fmt.Errorf("decode %s response: %w", endpoint, err))
	}

	return &parsed, nil
}

// groupByTopic folds messages into one item per topic. The fingerprint covers
// the newest message ID and message count, so further activity in a topic
// surfaces it again as a new item.
func (c *ChannelSource) groupByTopic(messages []channelMessage) []Item {
	type topicActivity struct {
		messages     []channelMessage
		participants map[string]bool
		newestID     int64
		newestAt     time.Time
	}

	topics := make(map[string]*topicActivity)
	for _, m := range messages {
		ta := topics[m.Subject]
		if ta == nil {
			ta = &topicActivity{participants: make(map[string]bool)}
			topics[m.Subject] = ta
		}
		ta.messages = append(ta.messages, m)
		ta.participants[m.Sender] = true
		if m.ID > ta.newestID {
			ta.newestID = m.ID
			ta.newestAt = time.Unix(m.Timestamp, 0).UTC()
		}
	}

	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []Item
	for _, name := range names {
		ta := topics[name]

		first := ta.messages[0]
		for _, m := range ta.messages {
			if m.ID < first.ID {
				first = m
			}
		}

		body := fmt.Sprintf("%d messages, %d participants.", len(ta.messages), len(ta.participants))
		if excerpt := strings.TrimSpace(first.Content); excerpt != "" {
			body += " " + firstNRunes(excerpt, channelBodyPreview)
		}

		items = append(items, Item{
			SourceID:    c.id,
			Fingerprint: Fingerprint(c.id, name, strconv.FormatInt(ta.newestID, 10), strconv.Itoa(len(ta.messages))),
			Title:       name,
			Body:        body,
			URL:         c.topicURL(name),
			Timestamp:   ta.newestAt,
		})
	}

	return items
}

func (c *ChannelSource) topicURL(topic string) string {
	streamPart := strconv.Itoa(c.streamID) + "-" + url.PathEscape(strings.ReplaceAll(c.stream, " ", "-"))
	return fmt.Sprintf("%s/#narrow/stream/%s/topic/%s", c.site, streamPart, url.PathEscape(topic))
}
