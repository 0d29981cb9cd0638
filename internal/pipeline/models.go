package pipeline

import "time"

// Project is the aggregate the state machine operates on. Stages always
// holds one entry per pipeline stage.
type Project struct {
	ID           string
	AccountID    string
	Title        string
	Brief        string
	Status       ProjectStatus
	CurrentStage Stage
	Revision     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Stages       map[Stage]StageStatus
}

// StageState reports one stage with its status, in pipeline order.
type StageState struct {
	Stage  Stage
	Status StageStatus
}

// OrderedStages returns the project's stage statuses in pipeline order.
func (p *Project) OrderedStages() []StageState {
	states := make([]StageState, 0, len(stageOrder))
	for _, stage := range stageOrder {
		states = append(states, StageState{Stage: stage, Status: p.Stages[stage]})
	}
	return states
}

// StageStatusOf returns the status of one stage, defaulting to pending for
// unknown stages so callers never observe an empty status.
func (p *Project) StageStatusOf(stage Stage) StageStatus {
	if status, ok := p.Stages[stage]; ok {
		return status
	}
	return StatusPending
}
