package moodleid

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/timnyborg/redpot-unchained-sub001/core"
)

var (
	// errors
	ErrNotFound        = errors.New("student not found")
	ErrAlreadyAssigned = errors.New("student already has a moodle id")
	ErrConflict        = errors.New("moodle id already taken, retry")

	nowFunc = time.Now // mockable

	// newBackOff returns the delay policy between conflicting claims.
	newBackOff = func() backoff.BackOff { // mockable
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 20 * time.Millisecond
		b.MaxInterval = 500 * time.Millisecond
		return b
	}
)

type (
	Repository interface {
		// MaxMoodleID returns the highest Moodle ID assigned to any student, 0 if none.
		MaxMoodleID(ctx context.Context, exec ...core.DBExecutor) (int, error)
		// SetMoodleID stores moodleID on a student that has none.
		// It returns ErrConflict when another student holds moodleID, ErrAlreadyAssigned when the
		// student already has an ID and ErrNotFound for unknown students.
		SetMoodleID(ctx context.Context, studentID, moodleID int, exec ...core.DBExecutor) error
		// StudentsWithoutMoodleID returns, in ascending order, the ids among studentIDs that have
		// no Moodle ID yet. An empty studentIDs selects every such student.
		StudentsWithoutMoodleID(ctx context.Context, studentIDs []int, exec ...core.DBExecutor) ([]int, error)
	}

	// Locker serialises allocation across processes.
	Locker interface {
		WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	}

	Service struct {
		repo       Repository
		locker     Locker
		lockKey    string
		maxRetries int
		logger     core.Logger
	}
)

// NewService returns the Moodle ID allocation service. locker may be nil, in which case the
// unique constraint on student.moodle_id is the only guard.
func NewService(repo Repository, locker Locker, conf *core.Config, logger core.Logger) *Service {
	maxRetries := conf.Moodle.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		repo:       repo,
		locker:     locker,
		lockKey:    conf.Moodle.LockKey,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (svc *Service) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if svc.locker == nil {
		return fn(ctx)
	}
	return svc.locker.WithLock(ctx, svc.lockKey, fn)
}

// Assign issues a new Moodle ID to studentID.
func (svc *Service) Assign(ctx context.Context, studentID int) (int, error) {
	var moodleID int
	err := svc.withLock(ctx, func(ctx context.Context) error {
		var err error
		moodleID, err = svc.claim(ctx, studentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	svc.logger.Info(fmt.Sprintf("moodle id %d assigned to student %d", moodleID, studentID))
	return moodleID, nil
}

// claim reads the watermark, tries the next candidate and starts over on conflict.
func (svc *Service) claim(ctx context.Context, studentID int) (int, error) {
	var moodleID, attempts int

	op := func() error {
		attempts++
		watermark, err := svc.repo.MaxMoodleID(ctx)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "reading moodle id watermark"))
		}
		candidate := NewGenerator(watermark, nowFunc()).Next()

		err = svc.repo.SetMoodleID(ctx, studentID, candidate)
		switch {
		case err == nil:
			moodleID = candidate
			return nil
		case errors.Is(err, ErrConflict):
			svc.logger.Debug(fmt.Sprintf("moodle id %d taken while assigning student %d (attempt %d)", candidate, studentID, attempts))
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(svc.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrConflict) {
			return 0, errors.Wrapf(err, "claiming moodle id for student %d: %d attempts", studentID, attempts)
		}
		return 0, err
	}
	return moodleID, nil
}

// AssignMissing issues Moodle IDs to every student in studentIDs that has none (every student
// without one if studentIDs is empty), from a single sequence. It returns the IDs issued so far,
// keyed by student, even when it stops on an error.
func (svc *Service) AssignMissing(ctx context.Context, studentIDs []int) (map[int]int, error) {
	assigned := make(map[int]int)

	err := svc.withLock(ctx, func(ctx context.Context) error {
		pending, err := svc.repo.StudentsWithoutMoodleID(ctx, studentIDs)
		if err != nil {
			return errors.Wrap(err, "finding students without moodle id")
		}
		if len(pending) == 0 {
			return nil
		}

		gen, err := svc.newGenerator(ctx)
		if err != nil {
			return err
		}

		for _, studentID := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}

			conflicts := 0
			for {
				candidate := gen.Next()
				err := svc.repo.SetMoodleID(ctx, studentID, candidate)
				if err == nil {
					assigned[studentID] = candidate
					break
				}
				if errors.Is(err, ErrAlreadyAssigned) {
					break // assigned by someone else meanwhile
				}
				if !errors.Is(err, ErrConflict) {
					return errors.Wrapf(err, "assigning moodle id to student %d", studentID)
				}

				conflicts++
				if conflicts > svc.maxRetries {
					return errors.Wrapf(err, "assigning moodle id to student %d: %d conflicts", studentID, conflicts)
				}
				// another writer moved the watermark: start again from the new one
				if gen, err = svc.newGenerator(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if len(assigned) > 0 {
		svc.logger.Info(fmt.Sprintf("%d moodle id(s) assigned", len(assigned)))
	}
	return assigned, err
}

func (svc *Service) newGenerator(ctx context.Context) (*Generator, error) {
	watermark, err := svc.repo.MaxMoodleID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading moodle id watermark")
	}
	return NewGenerator(watermark, nowFunc()), nil
}
