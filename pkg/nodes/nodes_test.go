package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
)

func directive(text, tag string) contracts.Directive {
	return contracts.Directive{ID: "d-1", Text: text, DomainTag: tag, SubmittedAt: time.Now().UTC()}
}

func TestRegistry(t *testing.T) {
	a := NewStaticNode("a", contracts.VoteApprove)
	b := NewStaticNode("b", contracts.VoteReject)

	r, err := NewRegistry(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID())

	// Nodes returns a copy.
	list := r.Nodes()
	list[0] = b
	assert.Equal(t, "a", r.Nodes()[0].ID())
}

func TestRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry(NewStaticNode("a", contracts.VoteApprove), NewStaticNode("a", contracts.VoteReject))
	assert.Error(t, err)

	_, err = NewRegistry(NewStaticNode("", contracts.VoteApprove))
	assert.Error(t, err)

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}

func TestStaticNode(t *testing.T) {
	n := NewStaticNode("spci", contracts.VoteApprove, WithRationale("ok"))
	v, err := n.Evaluate(context.Background(), directive("x", ""))
	require.NoError(t, err)
	assert.Equal(t, contracts.VoteApprove, v.VoteType)
	assert.Equal(t, "ok", v.Rationale)

	failing := NewStaticNode("spci", contracts.VoteApprove, WithError(errors.New("boom")))
	_, err = failing.Evaluate(context.Background(), directive("x", ""))
	assert.EqualError(t, err, "boom")
}

func TestStaticNode_HonoursCancellation(t *testing.T) {
	n := NewStaticNode("slow", contracts.VoteApprove, WithDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := n.Evaluate(ctx, directive("x", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCELNode(t *testing.T) {
	env, err := rules.NewEnv()
	require.NoError(t, err)

	n, err := NewCELNode(env, "gov-engine",
		`directive.domain_tag == "finance"`,
		`directive.text.contains("bypass")`)
	require.NoError(t, err)

	cases := []struct {
		text, tag string
		want      contracts.VoteType
	}{
		{"rebalance portfolio", "finance", contracts.VoteApprove},
		{"bypass controls", "finance", contracts.VoteReject},
		{"ship feature", "product", contracts.VoteAbstain},
	}
	for _, tc := range cases {
		v, err := n.Evaluate(context.Background(), directive(tc.text, tc.tag))
		require.NoError(t, err)
		assert.Equal(t, tc.want, v.VoteType, tc.text)
		assert.Equal(t, "gov-engine", v.VoterID)
	}
}

func TestCELNode_CompileErrors(t *testing.T) {
	env, err := rules.NewEnv()
	require.NoError(t, err)

	_, err = NewCELNode(env, "x", "", "")
	assert.Error(t, err)
	_, err = NewCELNode(env, "x", "directive.text ==", "")
	assert.Error(t, err)
}

func TestHTTPNode(t *testing.T) {
	var gotAuth string
	var gotReq evaluateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(evaluateResponse{Vote: "approve", Rationale: "looks fine"})
	}))
	defer srv.Close()

	n := NewHTTPNode("optimal-intel", srv.URL, "tok", srv.Client())
	v, err := n.Evaluate(context.Background(), directive("grow", "retail"))
	require.NoError(t, err)

	assert.Equal(t, contracts.VoteApprove, v.VoteType)
	assert.Equal(t, "looks fine", v.Rationale)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "grow", gotReq.Text)
	assert.Equal(t, "retail", gotReq.DomainTag)
}

func TestHTTPNode_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/500":
			w.WriteHeader(http.StatusInternalServerError)
		case "/garbage":
			_, _ = w.Write([]byte("not json"))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/500", "/garbage"} {
		n := NewHTTPNode("n", srv.URL+path, "", srv.Client())
		_, err := n.Evaluate(context.Background(), directive("x", ""))
		assert.Error(t, err, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n := NewHTTPNode("n", srv.URL+"/slow", "", srv.Client())
	_, err := n.Evaluate(ctx, directive("x", ""))
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	env, err := rules.NewEnv()
	require.NoError(t, err)

	reg, err := Build([]config.NodeConfig{
		{ID: "strategic-op", Kind: config.NodeKindCEL, ApproveIf: "true"},
		{ID: "spci", Kind: config.NodeKindStatic, Vote: "approve"},
		{ID: "optimal-intel", Kind: config.NodeKindHTTP, URL: "http://localhost:1"},
	}, env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"strategic-op", "spci", "optimal-intel"}, reg.IDs())

	_, err = Build([]config.NodeConfig{{ID: "x", Kind: "grpc"}}, env, nil)
	assert.Error(t, err)

	_, err = Build([]config.NodeConfig{{ID: "x", Kind: config.NodeKindCEL, ApproveIf: "1 +"}}, env, nil)
	assert.Error(t, err)
}
