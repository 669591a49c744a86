package database

import (
	"strings"

	"github.com/rpupo63/blog-backend/errs"
)

// constraintError maps a failed write onto the constraint it broke, matching
// the postgres and sqlite wordings. ok is false for any other error.
func constraintError(entity, field, referenced string, err error) (*errs.ApiErr, bool) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "UNIQUE constraint"):
		return errs.NewUniqueConstraintViolationError(entity, field, err), true
	case strings.Contains(msg, "violates foreign key constraint"), strings.Contains(msg, "FOREIGN KEY constraint"):
		return errs.NewForeignKeyConstraintError(entity, referenced, err), true
	}
	return nil, false
}
