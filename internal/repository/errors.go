package repository

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist. Callers should check for this error explicitly using
// errors.Is to distinguish missing records from other database errors.
//
//	job, err := repo.GetByID(ctx, id)
//	if errors.Is(err, repository.ErrNotFound) {
//	    handle not found
//	}
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update violates a unique
// constraint, for example registering a user with an email that already
// exists, or a concurrent counter update losing an optimistic-lock race.
var ErrConflict = errors.New("record already exists")
