package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// EnrollmentChecker answers class membership from the class_enrollments table.
type EnrollmentChecker struct {
	pool *pgxpool.Pool
}

func NewEnrollmentChecker(pool *pgxpool.Pool) *EnrollmentChecker {
	return &EnrollmentChecker{pool: pool}
}

func (c *EnrollmentChecker) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var ok bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM class_enrollments WHERE class_id=$1 AND student_id=$2)`,
		classID, studentID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

// Enroll adds a student to a class roster. Re-enrolling is a no-op.
func (c *EnrollmentChecker) Enroll(ctx context.Context, classID, studentID string) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO class_enrollments (class_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		classID, studentID)
	if err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}
