package pipeline

import (
	"fmt"

	"fableforge/internal/services"
)

// ValidateStart checks that a stage may begin generation: the project is
// active, the stage is still pending, and every earlier stage is approved.
func ValidateStart(p *Project, stage Stage) error {
	if err := requireActive(p, stage, "start"); err != nil {
		return err
	}
	if status := p.StageStatusOf(stage); status != StatusPending {
		return invalid(stage, "start", fmt.Sprintf("stage is %s, want pending", status))
	}
	if prev, ok := Previous(stage); ok {
		if status := p.StageStatusOf(prev); status != StatusApproved {
			return invalid(stage, "start", fmt.Sprintf("previous stage %s is %s, want approved", prev, status))
		}
	}
	return nil
}

// ValidateEdit checks that a stage output may be replaced by a user edit.
func ValidateEdit(p *Project, stage Stage) error {
	if err := requireActive(p, stage, "edit"); err != nil {
		return err
	}
	if status := p.StageStatusOf(stage); status != StatusAwaitingApproval {
		return invalid(stage, "edit", fmt.Sprintf("stage is %s, want awaiting_approval", status))
	}
	return nil
}

// ValidateApprove checks that a stage may be approved.
func ValidateApprove(p *Project, stage Stage) error {
	if err := requireActive(p, stage, "approve"); err != nil {
		return err
	}
	if status := p.StageStatusOf(stage); status != StatusAwaitingApproval {
		return invalid(stage, "approve", fmt.Sprintf("stage is %s, want awaiting_approval", status))
	}
	return nil
}

// ValidateRegenerate checks that a stage may be sent back to generation.
func ValidateRegenerate(p *Project, stage Stage) error {
	if err := requireActive(p, stage, "regenerate"); err != nil {
		return err
	}
	switch status := p.StageStatusOf(stage); status {
	case StatusAwaitingApproval, StatusFailed:
		return nil
	default:
		return invalid(stage, "regenerate", fmt.Sprintf("stage is %s, want awaiting_approval or failed", status))
	}
}

// ValidateDeploy checks that the project may be completed: the final cut
// must be approved.
func ValidateDeploy(p *Project) error {
	if p.Status != ProjectActive {
		return invalid(StageFinal, "deploy", fmt.Sprintf("project is %s", p.Status))
	}
	if status := p.StageStatusOf(StageFinal); status != StatusApproved {
		return invalid(StageFinal, "deploy", fmt.Sprintf("final stage is %s, want approved", status))
	}
	return nil
}

// ValidateGenerationComplete checks that a worker result may land: only a
// stage still awaiting generation accepts one.
func ValidateGenerationComplete(p *Project, stage Stage) error {
	if status := p.StageStatusOf(stage); status != StatusAwaitingGeneration {
		return invalid(stage, "complete", fmt.Sprintf("stage is %s, want awaiting_generation", status))
	}
	return nil
}

func requireActive(p *Project, stage Stage, op string) error {
	if p == nil {
		return services.Wrap(services.ErrNotFound, string(stage), op, "project missing", nil)
	}
	if p.Status != ProjectActive {
		return invalid(stage, op, fmt.Sprintf("project is %s", p.Status))
	}
	return nil
}

func invalid(stage Stage, op, detail string) error {
	return services.Wrap(services.ErrInvalidTransition, string(stage), op, detail, nil)
}
