package validation

import "github.com/casebake/bakery/internal/core/domain"

// =============================================================================
// Recipe Validation Functions
// =============================================================================

// ValidateCreateRecipeFields validates required fields for recipe creation.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
//
// Deep validation (character sets, path traversal) happens in the domain
// constructor; this only guards the request shape.
//
// Example:
//
//	field, msg := ValidateCreateRecipeFields("Corona Stats", "python:3.7.6", "CoronaStats/corona.py")
//	if field != "" {
//	    // Handle validation error
//	}
func ValidateCreateRecipeFields(name, baseImage, scriptPath string) (field, message string) {
	if name == "" {
		return "name", "name is required"
	}
	if baseImage == "" {
		return "base_image", "base_image is required"
	}
	if scriptPath == "" {
		return "script_path", "script_path is required"
	}
	return "", ""
}

// CanUpdateRecipe checks if a recipe can be updated while bakes reference it.
// Updating is always allowed; existing bakes keep the fingerprint they were
// built from, so history stays intact. A bake currently in flight is the one
// case we refuse, to keep its build log attributable to one definition.
//
// Example:
//
//	allowed, reason := CanUpdateRecipe(activeBakes)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanUpdateRecipe(activeBakes int) (allowed bool, reason string) {
	if activeBakes > 0 {
		return false, "recipe has a bake in progress"
	}
	return true, ""
}

// CanDeleteRecipe checks if a recipe can be deleted.
// Recipes with bakes in progress cannot be deleted.
//
// Example:
//
//	allowed, reason := CanDeleteRecipe(activeBakes)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanDeleteRecipe(activeBakes int) (allowed bool, reason string) {
	if activeBakes > 0 {
		return false, "recipe has a bake in progress"
	}
	return true, ""
}

// =============================================================================
// Bake Checks
// =============================================================================

// CanRunBake checks if a bake can be used to start a run.
// Only succeeded bakes have an image to run.
//
// Example:
//
//	allowed, reason := CanRunBake(bake.Status)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanRunBake(status domain.BakeStatus) (allowed bool, reason string) {
	if status != domain.BakeStatusSucceeded {
		return false, "bake has not succeeded"
	}
	return true, ""
}
