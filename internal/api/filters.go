package api

import (
	"github.com/lei/cross-ci/internal/models"
)

// FilterRuns filters run snapshots based on query parameters. Empty
// filter values match everything.
func FilterRuns(runs []*models.Run, branch string, result *models.RunResult, arch *models.Architecture) []*models.Run {
	if branch == "" && result == nil && arch == nil {
		return runs
	}

	filtered := make([]*models.Run, 0, len(runs))
	for _, r := range runs {
		if branch != "" && r.Event.Branch != branch {
			continue
		}
		if result != nil && r.Result != *result {
			continue
		}
		if arch != nil && r.Job(*arch) == nil {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// parseResultParam parses a run result query parameter
func parseResultParam(value string) *models.RunResult {
	switch models.RunResult(value) {
	case models.ResultPending, models.ResultSuccess, models.ResultFailure:
		result := models.RunResult(value)
		return &result
	}
	return nil
}

// parseArchParam parses an architecture query parameter
func parseArchParam(value string) *models.Architecture {
	switch models.Architecture(value) {
	case models.ArchNative, models.ArchForeign:
		arch := models.Architecture(value)
		return &arch
	}
	return nil
}
