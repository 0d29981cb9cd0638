package pipeline

import "strings"

// Stage is one ordered phase of content production.
type Stage string

const (
	StageBrief        Stage = "brief"
	StageScript       Stage = "script"
	StageNarration    Stage = "narration"
	StageImages       Stage = "images"
	StageVideos       Stage = "videos"
	StageFinal        Stage = "final"
	StageDistribution Stage = "distribution"
)

var stageOrder = []Stage{
	StageBrief,
	StageScript,
	StageNarration,
	StageImages,
	StageVideos,
	StageFinal,
	StageDistribution,
}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(stageOrder))
	for i, stage := range stageOrder {
		idx[stage] = i
	}
	return idx
}()

// Stages returns the ordered list of pipeline stages.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageIndex[normalized]
	return normalized, ok
}

// Previous returns the stage before s, or false when s is the entry point.
func Previous(s Stage) (Stage, bool) {
	idx, ok := stageIndex[s]
	if !ok || idx == 0 {
		return "", false
	}
	return stageOrder[idx-1], true
}

// Next returns the stage after s, or false when s is the last stage.
func Next(s Stage) (Stage, bool) {
	idx, ok := stageIndex[s]
	if !ok || idx == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[idx+1], true
}

// StageStatus represents the lifecycle of a single stage.
type StageStatus string

const (
	StatusPending            StageStatus = "pending"
	StatusAwaitingGeneration StageStatus = "awaiting_generation"
	StatusAwaitingApproval   StageStatus = "awaiting_approval"
	StatusApproved           StageStatus = "approved"
	StatusFailed             StageStatus = "failed"
)

var stageStatusSet = map[StageStatus]struct{}{
	StatusPending:            {},
	StatusAwaitingGeneration: {},
	StatusAwaitingApproval:   {},
	StatusApproved:           {},
	StatusFailed:             {},
}

// ParseStageStatus converts a string into a known StageStatus.
func ParseStageStatus(value string) (StageStatus, bool) {
	normalized := StageStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := stageStatusSet[normalized]
	return normalized, ok
}

// ProjectStatus represents the overall project lifecycle.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)
