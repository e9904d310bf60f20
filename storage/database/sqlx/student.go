package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
)

const moodleIDConstraint = "student_moodle_id_key"

type studentRepository struct {
	exec core.DBExecutor
}

var _ moodleid.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(exec core.DBExecutor) *studentRepository {
	return &studentRepository{exec: exec}
}

func (repo studentRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

func (repo studentRepository) MaxMoodleID(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	var max int
	if err := sqlxGet(ctx, repo.getExec(exec), &max, `SELECT COALESCE(MAX(moodle_id), 0) FROM student`); err != nil {
		return 0, errors.Wrap(err, "querying max moodle id")
	}
	return max, nil
}

func (repo studentRepository) SetMoodleID(ctx context.Context, studentID, moodleID int, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	res, err := exe.ExecContext(ctx, `UPDATE student SET moodle_id = $1 WHERE id = $2 AND moodle_id IS NULL`, moodleID, studentID)
	if err != nil {
		if isUniqueViolation(err, moodleIDConstraint) {
			return moodleid.ErrConflict
		}
		return errors.Wrap(err, "setting moodle id")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "setting moodle id")
	}
	if n == 1 {
		return nil
	}

	// nothing updated: tell a missing student from one that already has an id
	var found bool
	if err = sqlxGet(ctx, exe, &found, `SELECT EXISTS (SELECT 1 FROM student WHERE id = $1)`, studentID); err != nil {
		return errors.Wrap(err, "checking student")
	}
	if !found {
		return moodleid.ErrNotFound
	}
	return moodleid.ErrAlreadyAssigned
}

func (repo studentRepository) StudentsWithoutMoodleID(ctx context.Context, studentIDs []int, exec ...core.DBExecutor) ([]int, error) {
	ids := make([]int, 0)
	var err error
	if len(studentIDs) == 0 {
		err = sqlxSelect(ctx, repo.getExec(exec), &ids, `SELECT id FROM student WHERE moodle_id IS NULL ORDER BY id`)
	} else {
		err = sqlxSelect(ctx, repo.getExec(exec), &ids,
			`SELECT id FROM student WHERE moodle_id IS NULL AND id = ANY($1) ORDER BY id`, int64s(studentIDs))
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying students without moodle id")
	}
	return ids, nil
}
