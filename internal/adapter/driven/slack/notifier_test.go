package slack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prreviewer/internal/adapter/driven/slack"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

var testRequest = model.ReviewRequest{Repository: "repo", Owner: "demo", PullRequestNumber: 42}

func TestNotifyPosted(t *testing.T) {
	var got struct {
		Blocks []struct {
			Type string `json:"type"`
			Text struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"text"`
		} `json:"blocks"`
	}
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	n := slack.NewNotifier(server.URL, "https://github.example.com/", server.Client())
	err := n.NotifyPosted(context.Background(), testRequest, model.PostingOutcome{SuccessfulPosts: 3, FailedPosts: 1})

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "section", got.Blocks[0].Type)
	assert.Equal(t, "mrkdwn", got.Blocks[0].Text.Type)

	text := got.Blocks[0].Text.Text
	assert.Contains(t, text, "`demo/repo`")
	assert.Contains(t, text, "<https://github.example.com/demo/repo/pull/42|#42>")
	assert.Contains(t, text, "*Success*: 3")
	assert.Contains(t, text, "*Failed*: 1")
}

func TestNotifyPosted_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	t.Cleanup(server.Close)

	n := slack.NewNotifier(server.URL, "", server.Client())
	err := n.NotifyPosted(context.Background(), testRequest, model.PostingOutcome{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack returned 403: invalid_token")
}
