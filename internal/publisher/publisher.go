// Package publisher is the outbound transport for posting content.
// Errors are values: a failed publish is reported in the result, never
// raised past the caller.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"postflow/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, text, inReplyToID string) domain.PublishResult
}

// DryRun reports success without contacting the real transport. Results
// carry Simulated=true so the dispatch cycle skips the sent-history ledger.
type DryRun struct{}

func (DryRun) Publish(context.Context, string, string) domain.PublishResult {
	return domain.PublishResult{Success: true, Simulated: true}
}

const defaultEndpoint = "https://api.x.com/2/tweets"

// Client posts through the X API v2 create-post endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewClient(endpoint, token string) (*Client, error) {
	if token == "" {
		return nil, errors.New("publisher: missing bearer token")
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type createRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

type createResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) Publish(ctx context.Context, text, inReplyToID string) domain.PublishResult {
	req := createRequest{Text: text}
	if inReplyToID != "" {
		req.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: inReplyToID}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.PublishResult{Err: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{Err: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.PublishResult{Err: fmt.Sprintf("publish request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PublishResult{Err: fmt.Sprintf("read publish response: %v", err)}
	}
	if resp.StatusCode >= 400 {
		return domain.PublishResult{Err: fmt.Sprintf("publish HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return domain.PublishResult{Err: fmt.Sprintf("decode publish response: %v", err)}
	}
	return domain.PublishResult{Success: true, TweetID: created.Data.ID}
}
