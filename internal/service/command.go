package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/repository"
)

// Command is a mutation spanning several entities. Validate and Execute run
// in one transaction. Rollback, when set, undoes effects outside the
// database and runs only if the transaction did not commit.
type Command struct {
	Name     string
	Validate func(ctx context.Context, tx repository.Store) error
	Execute  func(ctx context.Context, tx repository.Store) error
	Rollback func(ctx context.Context)
}

type Runner struct {
	store repository.Store
	log   zerolog.Logger
}

func NewRunner(store repository.Store, log zerolog.Logger) *Runner {
	return &Runner{store: store, log: log}
}

func (r *Runner) Run(ctx context.Context, cmd Command) error {
	start := time.Now()
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		if cmd.Validate != nil {
			if err := cmd.Validate(ctx, tx); err != nil {
				return err
			}
		}
		return cmd.Execute(ctx, tx)
	})
	if err != nil {
		if cmd.Rollback != nil {
			cmd.Rollback(context.WithoutCancel(ctx))
		}
		r.log.Debug().Err(err).Str("command", cmd.Name).Msg("command failed")
		return err
	}

	r.log.Debug().
		Str("command", cmd.Name).
		Dur("elapsed", time.Since(start)).
		Msg("command committed")
	return nil
}
