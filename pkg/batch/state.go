package batch

// State is the phase a batch run is in
type State int

const (
	Idle State = iota
	Initializing
	Preparing
	Inferring
	PostProcessing
	Aggregating
	Done
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	Initializing:   "initializing",
	Preparing:      "preparing",
	Inferring:      "inferring",
	PostProcessing: "post_processing",
	Aggregating:    "aggregating",
	Done:           "done",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress is an advisory report on a running batch. Page and Total are
// zero for single images.
type Progress struct {
	State    State   `json:"state"`
	Fraction float64 `json:"fraction"`
	Page     int     `json:"page,omitempty"`
	Total    int     `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ProgressFunc receives progress reports. It is called synchronously and
// must return quickly.
type ProgressFunc func(Progress)
