package models

// StepResult is the outcome of a best-effort UI interaction.
// Only Succeeded means the page changed as intended; the other two are never errors.
type StepResult int

const (
	// StepNotApplicable means the target was not present, nothing was done
	StepNotApplicable StepResult = iota

	// StepSucceeded means the interaction happened
	StepSucceeded

	// StepFailedSoft means the target was present but the interaction failed
	StepFailedSoft
)

func (r StepResult) String() string {
	switch r {
	case StepSucceeded:
		return "succeeded"
	case StepFailedSoft:
		return "failed_soft"
	default:
		return "not_applicable"
	}
}

// Ok reports whether the step succeeded
func (r StepResult) Ok() bool {
	return r == StepSucceeded
}
