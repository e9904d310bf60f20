package dummydb

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
)

type studentRepository struct {
	db *DB
}

var _ moodleid.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) moodleid.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) MaxMoodleID(_ context.Context, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var max int
	for _, s := range repo.db.students {
		if s.MoodleID.Valid && s.MoodleID.Int > max {
			max = s.MoodleID.Int
		}
	}
	return max, nil
}

func (repo *studentRepository) SetMoodleID(_ context.Context, studentID, moodleID int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.students[studentID]
	if !ok {
		return moodleid.ErrNotFound
	}
	if s.MoodleID.Valid {
		return moodleid.ErrAlreadyAssigned
	}
	// unique constraint
	for _, other := range repo.db.students {
		if other.MoodleID.Valid && other.MoodleID.Int == moodleID {
			return moodleid.ErrConflict
		}
	}
	s.MoodleID = null.IntFrom(moodleID)
	return nil
}

func (repo *studentRepository) StudentsWithoutMoodleID(_ context.Context, studentIDs []int, _ ...core.DBExecutor) ([]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ids := make([]int, 0)
	if len(studentIDs) == 0 {
		for id, s := range repo.db.students {
			if !s.MoodleID.Valid {
				ids = append(ids, id)
			}
		}
	} else {
		seen := make(map[int]bool, len(studentIDs))
		for _, id := range studentIDs {
			if s, ok := repo.db.students[id]; ok && !s.MoodleID.Valid && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return ids, nil
}
