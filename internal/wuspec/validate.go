// internal/wuspec/validate.go
//
// Stage 1 of the WU Spec Store's pipeline (spec.md §4.4): schema validation
// against a discriminated shape per status. Collects every violation rather
// than stopping at the first, mirroring
// internal/contracts/validator.go's ValidateAgent(spec) []error idiom.

package wuspec

import "fmt"

var validStatuses = map[Status]bool{
	StatusReady:      true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusDone:       true,
}

var validTypes = map[Type]bool{
	TypeFeature:       true,
	TypeBug:           true,
	TypeRefactor:      true,
	TypeTooling:       true,
	TypeDocumentation: true,
	TypeProcess:       true,
}

var validExposures = map[Exposure]bool{
	ExposureUI:            true,
	ExposureAPI:           true,
	ExposureBackendOnly:   true,
	ExposureDocumentation: true,
}

// Validate checks wu against the schema required for its declared status,
// returning every violation found. An empty slice means the document is
// well-formed.
func Validate(wu WorkUnit) []error {
	var errs []error
	req := func(cond bool, msg string) {
		if !cond {
			errs = append(errs, fmt.Errorf("%s", msg))
		}
	}

	req(wu.ID != "", "id is required")
	req(wu.Title != "", "title is required")
	req(wu.Lane != "", "lane is required")
	req(wu.Created != "", "created is required")

	if wu.Type != "" {
		req(validTypes[wu.Type], fmt.Sprintf("type %q is not a recognized type", wu.Type))
	} else {
		errs = append(errs, fmt.Errorf("type is required"))
	}

	if wu.Exposure != "" {
		req(validExposures[wu.Exposure], fmt.Sprintf("exposure %q is not a recognized exposure", wu.Exposure))
	} else {
		errs = append(errs, fmt.Errorf("exposure is required"))
	}

	if !validStatuses[wu.Status] {
		errs = append(errs, fmt.Errorf("status %q is not a recognized status", wu.Status))
		return errs
	}

	// Discriminated requirements per status (spec.md §3/§4.4).
	switch wu.Status {
	case StatusReady:
		req(wu.Description != "", "description is required for a ready WU")
		req(len(wu.Acceptance) > 0, "acceptance is required for a ready WU")

	case StatusInProgress:
		req(wu.Description != "", "description is required for an in-progress WU")
		req(len(wu.Acceptance) > 0, "acceptance is required for an in-progress WU")
		req(wu.ClaimedMode != "", "claimed_mode is required for an in-progress WU")
		req(wu.AssignedTo != "", "assigned_to is required for an in-progress WU")
		if wu.ClaimedMode != "" {
			req(wu.ClaimedMode == ClaimedModeWorktree || wu.ClaimedMode == ClaimedModeBranchPR,
				fmt.Sprintf("claimed_mode %q is not recognized", wu.ClaimedMode))
		}
		if wu.ClaimedMode == ClaimedModeWorktree {
			req(wu.WorktreePath != "", "worktree_path is required when claimed_mode is worktree")
		}

	case StatusBlocked:
		req(wu.Description != "", "description is required for a blocked WU")
		req(len(wu.BlockedBy) > 0 || wu.Notes != "", "a blocked WU requires blocked_by entries or an explanatory note")

	case StatusDone:
		req(wu.Description != "", "description is required for a done WU")
		req(len(wu.Acceptance) > 0, "acceptance is required for a done WU")
		req(wu.CompletedAt != nil, "completed_at is required for a done WU")
	}

	if wu.Type == TypeFeature {
		req(len(wu.SpecRefs) > 0, "spec_refs is required for feature-type WUs")
	}

	for _, dep := range wu.Dependencies {
		req(dep != wu.ID, "a WU cannot depend on itself")
	}
	for _, dep := range wu.BlockedBy {
		req(dep != wu.ID, "a WU cannot be blocked by itself")
	}

	return errs
}
