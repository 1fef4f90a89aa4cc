package protocol_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sched"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip turns a Go value into the generic form the validator expects.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_StatusMessage(t *testing.T) {
	s := compile(t, "status.schema.json")

	msg := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            42,
		TickRateHz:      20,
		DrainPhase:      "before_step",
		Budget:          sched.Budget{MaxTasks: 256, MaxTime: 10 * time.Millisecond}.String(),
		Scheduler: sched.Metrics{
			Authoritative: sched.KindMetrics{Submitted: 10, Executed: 9, Failed: 1},
			QueueDepth:    3,
			Workers:       4,
			LastDrain:     sched.DrainReport{Executed: 9, Remaining: 3, Exhausted: true},
		},
		Providers: protocol.ProviderStates([]protect.Descriptor{
			{Kind: protect.Residence, Status: protect.StatusAbsent},
			{Kind: protect.KariClaims, Status: protect.StatusAvailable, Version: "1.4.0"},
		}),
		Generation: 1,
	}
	if err := s.Validate(roundTrip(t, msg)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"STATUS","protocol_version":"1.0","tick":-1}`), &bad)
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestSchemas_ErrorMessage(t *testing.T) {
	s := compile(t, "error.schema.json")
	msg := protocol.NewErrorMsg(errors.New("boom"))
	if err := s.Validate(roundTrip(t, msg)); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
