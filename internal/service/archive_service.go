package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

// ArchiveService manages archived patient records after the archive
// workflow has produced them.
type ArchiveService struct {
	store     repository.Store
	snapshots SnapshotStore
	log       zerolog.Logger
}

func NewArchiveService(store repository.Store, snapshots SnapshotStore, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{store: store, snapshots: snapshots, log: log}
}

func (s *ArchiveService) List(ctx context.Context, limit, offset int) ([]models.ArchivedPatient, int, error) {
	return s.store.ArchivedPatients().List(ctx, limit, offset)
}

func (s *ArchiveService) Get(ctx context.Context, id string) (models.ArchivedPatient, error) {
	return s.store.ArchivedPatients().GetByID(ctx, id)
}

// Create stores a raw archive record, for imports from other systems.
func (s *ArchiveService) Create(ctx context.Context, actor Principal, record models.ArchivedPatient) (models.ArchivedPatient, error) {
	record.IDPatient = strings.TrimSpace(record.IDPatient)
	record.Name = strings.TrimSpace(record.Name)
	if record.IDPatient == "" || record.Name == "" {
		return models.ArchivedPatient{}, apperr.BadRequest("id_patient and name are required")
	}

	now := time.Now().UTC()
	record.ID = ids.New()
	record.SnapshotKey = ""
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = now
	}
	if record.ArchivedBy == "" {
		record.ArchivedBy = actor.UserID
	}
	if err := s.store.ArchivedPatients().Create(ctx, record); err != nil {
		return models.ArchivedPatient{}, err
	}
	return s.store.ArchivedPatients().GetByID(ctx, record.ID)
}

// Delete removes the record and, best effort, its snapshot.
func (s *ArchiveService) Delete(ctx context.Context, id string) error {
	record, err := s.store.ArchivedPatients().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.ArchivedPatients().Delete(ctx, id); err != nil {
		return err
	}
	if s.snapshots != nil && record.SnapshotKey != "" {
		if err := s.snapshots.RemoveSnapshot(ctx, record.SnapshotKey); err != nil {
			s.log.Warn().Err(err).Str("key", record.SnapshotKey).Msg("remove archive snapshot failed")
		}
	}
	return nil
}
