package sweep

import (
	"encoding/json"
	"os"
	"time"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
)

// State is the persisted sweep-state mapping layer id to the timestamp it
// was first observed unreferenced. Every key in a saved
// State must be currently unreferenced according to the graph that produced
// it; the Sweep Engine enforces that invariant, not this type.
type State map[string]time.Time

// loadState reads path as a State. A missing file is treated as an empty
// state, which is what a first-ever sweep sees. Any other read or parse
// failure is a KindState error.
func loadState(path string) (State, error) {
	const op = "sweep.loadState"

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return nil, gcerrors.New(gcerrors.KindState, op, "reading sweep-state file", err)
	}

	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, gcerrors.New(gcerrors.KindState, op, "parsing sweep-state file", err)
	}

	state := make(State, len(raw))
	for id, ts := range raw {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindState, op, "parsing timestamp for "+id, err)
		}
		state[id] = t
	}
	return state, nil
}

// saveState writes state to path as ISO-8601 timestamps, pretty-printed.
// Per the sweep-state file is only ever written on full sweep
// success; a partial or failed run must leave the previous file untouched,
// which this function's caller enforces by only calling it once C\D has
// been fully computed.
func saveState(path string, state State) error {
	const op = "sweep.saveState"

	raw := make(map[string]string, len(state))
	for id, t := range state {
		raw[id] = t.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return gcerrors.New(gcerrors.KindState, op, "encoding sweep-state file", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return gcerrors.New(gcerrors.KindState, op, "writing sweep-state file", err)
	}
	return nil
}
