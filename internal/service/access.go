package service

import (
	"context"

	"github.com/msms-dev/msms-api/internal/models"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

// guardianReader reports parent-child account links.
type guardianReader interface {
	IsChild(ctx context.Context, childID, parentID int64) (bool, error)
}

// authorizeStudent decides whether the actor may read or act on records
// belonging to the given student. Admins and teachers may act for anyone,
// students only for themselves and parents only for a linked child.
func authorizeStudent(ctx context.Context, guardians guardianReader, actor *models.JWTClaims, studentID int64) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleTeacher:
		return nil
	case models.RoleStudent:
		if actor.UserID == studentID {
			return nil
		}
	case models.RoleParent:
		linked, err := guardians.IsChild(ctx, studentID, actor.UserID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check guardian link")
		}
		if linked {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

// errSelectChild is returned when a parent lists records without naming
// which linked child the listing is for.
func errSelectChild(param string) error {
	return appErrors.Clone(appErrors.ErrValidation, "parents must select a child via the "+param+" parameter")
}
