// Package validation provides pure validation functions for API handlers.
//
// This package contains the functional core logic for validating API requests
// and checking business rules before they touch storage or Docker. All
// functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - ValidateCreateRecipeFields: Validate required fields for recipe creation
//   - CanUpdateRecipe: Check if a recipe can be updated
//   - CanRunBake: Check if a bake can be used to start a run
//   - CanDeleteRecipe: Check if a recipe can be deleted
//   - CanAssignNode: Check if a node can accept bake or run work
//
// # Usage
//
// The API handlers use these functions to validate requests before processing:
//
//	if field, msg := validation.ValidateCreateRecipeFields(name, baseImage, script); field != "" {
//	    // Return 400 Bad Request with msg
//	}
package validation
