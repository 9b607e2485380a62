package scans

import "time"

// StateKind tags the live pipeline state.
type StateKind string

const (
	StateIdle      StateKind = "idle"
	StateCapturing StateKind = "capturing"
	StateAnalyzing StateKind = "analyzing"
	StateResults   StateKind = "results"
	StateFailed    StateKind = "failed"
)

// Failure is what the Failed state exposes to the presentation layer.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// State is a snapshot of the pipeline. Which pointers are set depends on Kind:
// Image for analyzing/results/failed, Result for results, Failure for failed.
type State struct {
	Kind      StateKind       `json:"state"`
	RunID     uint64          `json:"run_id"`
	Image     *CapturedImage  `json:"image,omitempty"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func Idle(at time.Time) State { return State{Kind: StateIdle, UpdatedAt: at} }

func Capturing(at time.Time) State { return State{Kind: StateCapturing, UpdatedAt: at} }

func Analyzing(run uint64, img CapturedImage, at time.Time) State {
	return State{Kind: StateAnalyzing, RunID: run, Image: &img, UpdatedAt: at}
}

func Results(run uint64, img CapturedImage, res AnalysisResult, at time.Time) State {
	return State{Kind: StateResults, RunID: run, Image: &img, Result: &res, UpdatedAt: at}
}

// Failed builds the failed state from a pipeline error. Errors without a kind
// are reported as InferenceUnavailable.
func Failed(run uint64, img CapturedImage, err error, at time.Time) State {
	kind := KindOf(err)
	if kind == "" {
		kind = KindInferenceUnavailable
	}
	return State{
		Kind:      StateFailed,
		RunID:     run,
		Image:     &img,
		Failure:   &Failure{Kind: kind, Stage: StageOf(err), Message: kind.Message()},
		UpdatedAt: at,
	}
}
