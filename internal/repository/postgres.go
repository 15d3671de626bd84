package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

func (s *PgStore) Users() Users                       { return &UserRepository{db: s.db} }
func (s *PgStore) Sessions() Sessions                 { return &SessionRepository{db: s.db} }
func (s *PgStore) Patients() Patients                 { return &PatientRepository{db: s.db} }
func (s *PgStore) Devices() Devices                   { return &DeviceRepository{db: s.db} }
func (s *PgStore) Rooms() Rooms                       { return &RoomRepository{db: s.db} }
func (s *PgStore) Alerts() Alerts                     { return &AlertRepository{db: s.db} }
func (s *PgStore) ArchivedPatients() ArchivedPatients { return &ArchivedPatientRepository{db: s.db} }

// WithinTx nests by reusing the open transaction.
func (s *PgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PgStore{pool: s.pool, db: tx, inTx: true})
	})
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
