package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// maxResponseBytes caps what a remote advisor may send back.
const maxResponseBytes = 64 * 1024

// HTTPNode delegates evaluation to a remote advisory provider. The call is
// bounded only by ctx; the dispatcher owns the deadline.
type HTTPNode struct {
	id     string
	url    string
	token  string
	client *http.Client
}

// NewHTTPNode creates a remote node. A nil client uses http.DefaultClient.
func NewHTTPNode(id, url, token string, client *http.Client) *HTTPNode {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNode{id: id, url: url, token: token, client: client}
}

type evaluateRequest struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	DomainTag string `json:"domain_tag,omitempty"`
}

type evaluateResponse struct {
	Vote      string `json:"vote"`
	Rationale string `json:"rationale,omitempty"`
}

func (n *HTTPNode) ID() string { return n.id }

func (n *HTTPNode) Evaluate(ctx context.Context, d contracts.Directive) (contracts.NodeVote, error) {
	payload, err := json.Marshal(evaluateRequest{ID: d.ID, Text: d.Text, DomainTag: d.DomainTag})
	if err != nil {
		return contracts.NodeVote{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return contracts.NodeVote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return contracts.NodeVote{}, fmt.Errorf("call %s: %w", n.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return contracts.NodeVote{}, fmt.Errorf("call %s: unexpected status %d", n.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return contracts.NodeVote{}, fmt.Errorf("read response: %w", err)
	}

	var out evaluateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return contracts.NodeVote{}, fmt.Errorf("decode response: %w", err)
	}

	return contracts.NodeVote{
		VoterID:   n.id,
		VoteType:  contracts.VoteType(strings.ToUpper(out.Vote)),
		Rationale: out.Rationale,
	}, nil
}
