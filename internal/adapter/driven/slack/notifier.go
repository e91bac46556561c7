// Package slack posts review completion notices to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Notifier implements driven.Notifier over an incoming webhook.
type Notifier struct {
	webhookURL string
	webURL     string
	httpClient *http.Client
}

// NewNotifier creates a Notifier. webURL is the GitHub web root used to build
// pull request links.
func NewNotifier(webhookURL, webURL string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if webURL == "" {
		webURL = "https://github.com"
	}
	return &Notifier{
		webhookURL: webhookURL,
		webURL:     strings.TrimSuffix(webURL, "/"),
		httpClient: httpClient,
	}
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type string     `json:"type"`
	Text textObject `json:"text"`
}

type message struct {
	Blocks []block `json:"blocks"`
}

// NotifyPosted sends one mrkdwn section naming the pull request and the
// posting tally.
func (n *Notifier) NotifyPosted(ctx context.Context, req model.ReviewRequest, outcome model.PostingOutcome) error {
	payload, err := json.Marshal(n.format(req, outcome))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (n *Notifier) format(req model.ReviewRequest, outcome model.PostingOutcome) message {
	prURL := fmt.Sprintf("%s/%s/%s/pull/%d", n.webURL, req.Owner, req.Repository, req.PullRequestNumber)
	text := fmt.Sprintf(":memo: *PR Review Comments Posted*\n*Repo*: `%s`  •  *PR*: <%s|#%d>\n:white_check_mark: *Success*: %d   :x: *Failed*: %d",
		req.RepoFullName(), prURL, req.PullRequestNumber, outcome.SuccessfulPosts, outcome.FailedPosts)

	return message{Blocks: []block{{
		Type: "section",
		Text: textObject{Type: "mrkdwn", Text: text},
	}}}
}
