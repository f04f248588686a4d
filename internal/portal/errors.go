package portal

import "fmt"

// Stage names the observation step that failed.
type Stage string

const (
	StageLaunch   Stage = "launch"
	StageLogin    Stage = "login"
	StageNavigate Stage = "navigate"
	StageSlots    Stage = "slots"
	StageScan     Stage = "scan"
)

// Error is an observation failure tagged with its stage.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("portal: %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Err: err}
}
