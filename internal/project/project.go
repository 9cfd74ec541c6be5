// Package project threads the step list of a scaffolding project through
// successive model responses. The caller owns the Project value; nothing
// here keeps state between calls.
package project

import (
	"slices"

	"github.com/example/site-scaffolder/internal/models"
)

const (
	DefaultTitle  = "Project Files & Steps"
	OverviewTitle = "Project Overview"
)

// CompletionPolicy selects which steps are marked completed after a
// reduction.
type CompletionPolicy int

const (
	// PerBatch completes only the steps the reducer just consumed.
	PerBatch CompletionPolicy = iota
	// AllSteps completes every step of the project, matching the behavior of
	// the first frontend.
	AllSteps
)

// Merge appends steps to existing and returns the result. A nil existing
// project starts a new one. Incoming ids are replaced by ids drawn from the
// project's allocator, and incoming statuses are reset to pending. Prior
// steps keep their order, ids and statuses.
func Merge(existing *models.Project, steps []models.Step) *models.Project {
	var p *models.Project
	if existing == nil {
		p = &models.Project{Title: DefaultTitle, Steps: make([]models.Step, 0, len(steps)), NextID: 1}
	} else {
		p = &models.Project{
			Title:  existing.Title,
			Steps:  slices.Clone(existing.Steps),
			NextID: nextID(existing),
		}
		if p.Steps == nil {
			p.Steps = make([]models.Step, 0, len(steps))
		}
	}
	for _, s := range steps {
		s.ID = p.NextID
		s.Status = models.StatusPending
		p.NextID++
		p.Steps = append(p.Steps, s)
	}
	return p
}

// WithOverview starts a project whose first step is the overview pseudo
// step. It has no file effect and is shown to the user as already done.
func WithOverview(title string) *models.Project {
	if title == "" {
		title = DefaultTitle
	}
	return &models.Project{
		Title: title,
		Steps: []models.Step{{
			ID:          1,
			Kind:        models.KindOverview,
			Title:       OverviewTitle,
			Description: title,
			Status:      models.StatusCompleted,
		}},
		NextID: 2,
	}
}

// MarkCompleted sets the status of step id to completed and reports whether
// such a step exists.
func MarkCompleted(p *models.Project, id int) bool {
	if p == nil {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			p.Steps[i].Status = models.StatusCompleted
			return true
		}
	}
	return false
}

// Complete marks steps completed after the reducer consumed applied.
func Complete(p *models.Project, applied []int, policy CompletionPolicy) {
	if p == nil {
		return
	}
	if policy == AllSteps {
		for i := range p.Steps {
			p.Steps[i].Status = models.StatusCompleted
		}
		return
	}
	for _, id := range applied {
		MarkCompleted(p, id)
	}
}

// Pending returns the steps the reducer has not consumed yet.
func Pending(p *models.Project) []models.Step {
	if p == nil {
		return nil
	}
	var out []models.Step
	for _, s := range p.Steps {
		if s.Status == models.StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// nextID guards against projects built by hand or decoded from older data
// whose allocator lags behind their steps.
func nextID(p *models.Project) int {
	n := max(p.NextID, 1)
	for _, s := range p.Steps {
		if s.ID >= n {
			n = s.ID + 1
		}
	}
	return n
}
