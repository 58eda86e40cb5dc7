package units

import (
	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
)

// ValidateUnitID validates unit ID format and constraints
func ValidateUnitID(id domain.UnitID) error {
	if id == "" {
		return errors.NewValidationError("unit ID cannot be empty", nil)
	}

	if len(id) > 64 {
		return errors.NewValidationError("unit ID cannot exceed 64 characters", nil)
	}

	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewValidationError("unit ID contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil).
				WithContext("unit_id", string(id))
		}
	}

	return nil
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
