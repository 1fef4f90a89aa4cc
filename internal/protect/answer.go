package protect

import "slices"

// Answer is the combined verdict of every consulted provider.
type Answer struct {
	Blocked   bool     `json:"blocked"`
	BlockedBy string   `json:"blocked_by,omitempty"`
	Consulted []string `json:"consulted,omitempty"`
	TimedOut  []string `json:"timed_out,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Cached    bool     `json:"cached,omitempty"`
}

// clone copies the provider lists so cached answers never share them.
func (a Answer) clone() Answer {
	a.Consulted = slices.Clone(a.Consulted)
	a.TimedOut = slices.Clone(a.TimedOut)
	a.Failed = slices.Clone(a.Failed)
	return a
}

// Decision is one journaled protection answer.
type Decision struct {
	World  string  `json:"world"`
	Pos    [3]int  `json:"pos"`
	Actor  string  `json:"actor,omitempty"`
	Action Action  `json:"action"`
	Answer Answer  `json:"answer"`
	TookMS float64 `json:"took_ms"`
}

type DecisionSink interface {
	RecordDecision(d Decision) error
}
