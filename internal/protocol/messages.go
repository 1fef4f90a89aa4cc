package protocol

import (
	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

// STATUS (server -> observer): published once per tick.
type StatusMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	TickRateHz      int             `json:"tick_rate_hz"`
	DrainPhase      string          `json:"drain_phase"`
	Budget          string          `json:"budget"`
	Scheduler       sched.Metrics   `json:"scheduler"`
	Providers       []ProviderState `json:"providers"`
	Generation      uint64          `json:"registry_generation"`
}

type ProviderState struct {
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ERROR (server -> observer).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewErrorMsg(err error) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: CodeOf(err), Message: err.Error()}
}

// ProviderStates converts registry descriptors to their wire form.
func ProviderStates(ds []protect.Descriptor) []ProviderState {
	out := make([]ProviderState, 0, len(ds))
	for _, d := range ds {
		out = append(out, ProviderState{
			Kind:    string(d.Kind),
			Status:  string(d.Status),
			Version: d.Version,
			Reason:  d.Reason,
		})
	}
	return out
}
