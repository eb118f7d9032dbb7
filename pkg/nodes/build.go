package nodes

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/rules"
)

// Build constructs the registry declared in configuration. CEL compile
// errors and unknown kinds fail here, before any session is accepted.
func Build(cfgs []config.NodeConfig, env *rules.Env, client *http.Client) (*Registry, error) {
	built := make([]Node, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case config.NodeKindStatic:
			vote := contracts.VoteType(strings.ToUpper(c.Vote))
			if !vote.Valid() {
				return nil, fmt.Errorf("node %q: invalid static vote %q", c.ID, c.Vote)
			}
			built = append(built, NewStaticNode(c.ID, vote,
				WithRationale(c.Rationale),
				WithDelay(time.Duration(c.DelayMs)*time.Millisecond),
			))
		case config.NodeKindCEL:
			n, err := NewCELNode(env, c.ID, c.ApproveIf, c.RejectIf)
			if err != nil {
				return nil, err
			}
			built = append(built, n)
		case config.NodeKindHTTP:
			built = append(built, NewHTTPNode(c.ID, c.URL, c.Token, client))
		default:
			return nil, fmt.Errorf("node %q: unknown kind %q", c.ID, c.Kind)
		}
	}
	return NewRegistry(built...)
}
