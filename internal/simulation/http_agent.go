package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/probelab/agentsim/internal/types"
)

// HTTPAgent adapts an agent under test exposed as an HTTP chat endpoint to
// the AgentResponder interface. The endpoint receives the transcript in its
// external orientation and replies with the agent's next message.
type HTTPAgent struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAgent creates a responder for the given chat endpoint.
func NewHTTPAgent(endpoint string) *HTTPAgent {
	return &HTTPAgent{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type agentRequest struct {
	Messages []types.ConversationTurn `json:"messages"`
}

type agentResponse struct {
	Reply string `json:"reply"`
}

// Respond posts the transcript and returns the agent's reply.
func (a *HTTPAgent) Respond(ctx context.Context, transcript []types.ConversationTurn) (string, error) {
	body, err := json.Marshal(agentRequest{Messages: transcript})
	if err != nil {
		return "", fmt.Errorf("marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call agent endpoint: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if strings.TrimSpace(parsed.Reply) == "" {
		return "", fmt.Errorf("agent endpoint returned empty reply")
	}
	return parsed.Reply, nil
}
