// Package memstore is an in-memory repository.Store. Transactions work on a
// copy of the data that replaces the live copy on commit, so a failed
// transaction leaves nothing behind. Transactions are serialised.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) clone() *table[T] {
	cp := &table[T]{rows: make(map[string]T, len(t.rows)), order: append([]string(nil), t.order...)}
	for k, v := range t.rows {
		cp.rows[k] = v
	}
	return cp
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = v
}

func (t *table[T]) del(id string) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	for i, key := range t.order {
		if key == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *table[T]) all() []T {
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

type state struct {
	users    *table[models.User]
	sessions *table[models.Session]
	patients *table[models.Patient]
	devices  *table[models.Device]
	rooms    *table[models.Room]
	alerts   *table[models.Alert]
	archived *table[models.ArchivedPatient]
}

func (s *state) clone() *state {
	return &state{
		users:    s.users.clone(),
		sessions: s.sessions.clone(),
		patients: s.patients.clone(),
		devices:  s.devices.clone(),
		rooms:    s.rooms.clone(),
		alerts:   s.alerts.clone(),
		archived: s.archived.clone(),
	}
}

type Store struct {
	mu   *sync.Mutex
	root *Store
	data *state
	inTx bool
	now  func() time.Time
}

func New() *Store {
	s := &Store{
		mu: &sync.Mutex{},
		data: &state{
			users:    newTable[models.User](),
			sessions: newTable[models.Session](),
			patients: newTable[models.Patient](),
			devices:  newTable[models.Device](),
			rooms:    newTable[models.Room](),
			alerts:   newTable[models.Alert](),
			archived: newTable[models.ArchivedPatient](),
		},
		now: time.Now,
	}
	s.root = s
	return s
}

// lock is a no-op inside a transaction, which already holds the mutex.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Store{mu: s.mu, root: s.root, data: s.data.clone(), inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.root.data = tx.data
	return nil
}

func (s *Store) Users() repository.Users                       { return userRepo{s} }
func (s *Store) Sessions() repository.Sessions                 { return sessionRepo{s} }
func (s *Store) Patients() repository.Patients                 { return patientRepo{s} }
func (s *Store) Devices() repository.Devices                   { return deviceRepo{s} }
func (s *Store) Rooms() repository.Rooms                       { return roomRepo{s} }
func (s *Store) Alerts() repository.Alerts                     { return alertRepo{s} }
func (s *Store) ArchivedPatients() repository.ArchivedPatients { return archivedRepo{s} }

// state returns the data the view should read: its own copy inside a
// transaction, the committed copy otherwise.
func (s *Store) state() *state {
	if s.inTx {
		return s.data
	}
	return s.root.data
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user models.User) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, u := range st.users.rows {
		if strings.EqualFold(u.Email, user.Email) {
			return apperr.Conflict("duplicate value violates users_email_key")
		}
		if u.Username == user.Username {
			return apperr.Conflict("duplicate value violates users_username_key")
		}
	}
	now := r.s.now()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt, user.UpdatedAt = now, now
	st.users.put(user.ID, user)
	return nil
}

func (r userRepo) FindByEmail(_ context.Context, email string) (models.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.state().users.rows {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (r userRepo) GetByID(_ context.Context, id string) (models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.state().users.get(id)
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (r userRepo) List(_ context.Context, limit, offset int) ([]models.User, int, error) {
	defer r.s.lock()()
	all := r.s.state().users.all()
	return page(all, limit, offset), len(all), nil
}

func (r userRepo) Update(_ context.Context, user models.User) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.users.get(user.ID)
	if !ok {
		return repository.ErrUserNotFound
	}
	for id, u := range st.users.rows {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) {
			return apperr.Conflict("duplicate value violates users_email_key")
		}
		if u.Username == user.Username {
			return apperr.Conflict("duplicate value violates users_username_key")
		}
	}
	cur.Email, cur.Username, cur.Role = user.Email, user.Username, user.Role
	cur.UpdatedAt = r.s.now()
	st.users.put(cur.ID, cur)
	return nil
}

func (r userRepo) UpdatePassword(_ context.Context, id string, hash []byte) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.users.get(id)
	if !ok {
		return repository.ErrUserNotFound
	}
	cur.PasswordHash = hash
	cur.UpdatedAt = r.s.now()
	st.users.put(id, cur)
	return nil
}

func (r userRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	st := r.s.state()
	if !st.users.del(id) {
		return repository.ErrUserNotFound
	}
	for sid, sess := range st.sessions.rows {
		if sess.UserID == id {
			st.sessions.del(sid)
		}
	}
	return nil
}

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(_ context.Context, session models.Session) error {
	defer r.s.lock()()
	now := r.s.now()
	session.CreatedAt, session.LastSeenAt = now, now
	r.s.state().sessions.put(session.ID, session)
	return nil
}

func (r sessionRepo) FindByRefreshHash(_ context.Context, refreshHash []byte) (models.Session, error) {
	defer r.s.lock()()
	for _, sess := range r.s.state().sessions.rows {
		if bytes.Equal(sess.RefreshTokenHash, refreshHash) {
			return sess, nil
		}
	}
	return models.Session{}, repository.ErrSessionNotFound
}

func (r sessionRepo) Rotate(_ context.Context, id string, refreshHash []byte, expiresAt time.Time) error {
	defer r.s.lock()()
	st := r.s.state()
	sess, ok := st.sessions.get(id)
	if !ok {
		return repository.ErrSessionNotFound
	}
	sess.RefreshTokenHash = refreshHash
	sess.ExpiresAt = expiresAt
	sess.LastSeenAt = r.s.now()
	st.sessions.put(id, sess)
	return nil
}

func (r sessionRepo) DeleteByID(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().sessions.del(id) {
		return repository.ErrSessionNotFound
	}
	return nil
}

func (r sessionRepo) DeleteByUser(_ context.Context, userID string) error {
	defer r.s.lock()()
	st := r.s.state()
	for id, sess := range st.sessions.rows {
		if sess.UserID == userID {
			st.sessions.del(id)
		}
	}
	return nil
}

func (r sessionRepo) CountByUser(_ context.Context, userID string) (int, error) {
	defer r.s.lock()()
	count := 0
	for _, sess := range r.s.state().sessions.rows {
		if sess.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r sessionRepo) DeleteOldestSessions(_ context.Context, userID string, keepLatest int) error {
	defer r.s.lock()()
	st := r.s.state()
	var mine []models.Session
	for _, sess := range st.sessions.all() {
		if sess.UserID == userID {
			mine = append(mine, sess)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].LastSeenAt.After(mine[j].LastSeenAt)
	})
	for i := keepLatest; i < len(mine); i++ {
		st.sessions.del(mine[i].ID)
	}
	return nil
}

func (r sessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	defer r.s.lock()()
	st := r.s.state()
	var n int64
	for id, sess := range st.sessions.rows {
		if sess.ExpiresAt.Before(now) {
			st.sessions.del(id)
			n++
		}
	}
	return n, nil
}

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p models.Patient) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, cur := range st.patients.rows {
		if cur.IDPatient == p.IDPatient {
			return apperr.Conflict("duplicate value violates patients_id_patient_key")
		}
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	st.patients.put(p.ID, p)
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id string) (models.Patient, error) {
	defer r.s.lock()()
	p, ok := r.s.state().patients.get(id)
	if !ok {
		return models.Patient{}, repository.ErrPatientNotFound
	}
	return p, nil
}

func (r patientRepo) GetByDevice(_ context.Context, idDevice string) (models.Patient, error) {
	defer r.s.lock()()
	for _, p := range r.s.state().patients.all() {
		if p.ArchivedAt == nil && p.IDDevice != nil && *p.IDDevice == idDevice {
			return p, nil
		}
	}
	return models.Patient{}, repository.ErrPatientNotFound
}

func (r patientRepo) List(_ context.Context, filter repository.PatientFilter) ([]models.Patient, int, error) {
	defer r.s.lock()()
	var out []models.Patient
	for _, p := range r.s.state().patients.all() {
		if !filter.IncludeArchived && p.ArchivedAt != nil {
			continue
		}
		if filter.Room != nil && (p.Room == nil || *p.Room != *filter.Room) {
			continue
		}
		out = append(out, p)
	}
	return page(out, filter.Limit, filter.Offset), len(out), nil
}

func (r patientRepo) Update(_ context.Context, p models.Patient) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.patients.get(p.ID)
	if !ok {
		return repository.ErrPatientNotFound
	}
	for id, other := range st.patients.rows {
		if id != p.ID && other.IDPatient == p.IDPatient {
			return apperr.Conflict("duplicate value violates patients_id_patient_key")
		}
	}
	cur.IDPatient, cur.Name, cur.Illness, cur.Age, cur.Status, cur.Notes =
		p.IDPatient, p.Name, p.Illness, p.Age, p.Status, p.Notes
	cur.UpdatedAt = r.s.now()
	st.patients.put(cur.ID, cur)
	return nil
}

func (r patientRepo) modify(id string, fn func(*models.Patient)) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.patients.get(id)
	if !ok {
		return repository.ErrPatientNotFound
	}
	fn(&cur)
	cur.UpdatedAt = r.s.now()
	st.patients.put(id, cur)
	return nil
}

func (r patientRepo) SetDevice(_ context.Context, id string, idDevice *string) error {
	return r.modify(id, func(p *models.Patient) { p.IDDevice = idDevice })
}

func (r patientRepo) SetRoom(_ context.Context, id string, room *int) error {
	return r.modify(id, func(p *models.Patient) { p.Room = room })
}

func (r patientRepo) MarkArchived(_ context.Context, id string, at time.Time) error {
	return r.modify(id, func(p *models.Patient) { p.ArchivedAt = &at })
}

func (r patientRepo) CountActiveInRoom(_ context.Context, room int, excludeID string) (int, error) {
	defer r.s.lock()()
	count := 0
	for id, p := range r.s.state().patients.rows {
		if id != excludeID && p.ArchivedAt == nil && p.Room != nil && *p.Room == room {
			count++
		}
	}
	return count, nil
}

func (r patientRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().patients.del(id) {
		return repository.ErrPatientNotFound
	}
	return nil
}

type deviceRepo struct{ s *Store }

func (r deviceRepo) Create(_ context.Context, d models.Device) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, cur := range st.devices.rows {
		if cur.IDDevice == d.IDDevice {
			return apperr.Conflict("duplicate value violates devices_id_device_key")
		}
	}
	if d.BatteryLevel < 0 || d.BatteryLevel > 100 {
		return apperr.BadRequest("invalid value: battery_level out of range")
	}
	d.UpdatedAt = r.s.now()
	st.devices.put(d.ID, d)
	return nil
}

func (r deviceRepo) GetByID(_ context.Context, id string) (models.Device, error) {
	defer r.s.lock()()
	d, ok := r.s.state().devices.get(id)
	if !ok {
		return models.Device{}, repository.ErrDeviceNotFound
	}
	return d, nil
}

func (r deviceRepo) GetByExternalID(_ context.Context, idDevice string) (models.Device, error) {
	defer r.s.lock()()
	for _, d := range r.s.state().devices.rows {
		if d.IDDevice == idDevice {
			return d, nil
		}
	}
	return models.Device{}, repository.ErrDeviceNotFound
}

func (r deviceRepo) LockByExternalID(ctx context.Context, idDevice string) (models.Device, error) {
	return r.GetByExternalID(ctx, idDevice)
}

func (r deviceRepo) List(_ context.Context, limit, offset int) ([]models.Device, int, error) {
	defer r.s.lock()()
	all := r.s.state().devices.all()
	sort.SliceStable(all, func(i, j int) bool { return all[i].IDDevice < all[j].IDDevice })
	return page(all, limit, offset), len(all), nil
}

func (r deviceRepo) ListLowBattery(_ context.Context, threshold int) ([]models.Device, error) {
	defer r.s.lock()()
	var out []models.Device
	for _, d := range r.s.state().devices.all() {
		if d.BatteryLevel < threshold {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BatteryLevel < out[j].BatteryLevel })
	return out, nil
}

func (r deviceRepo) Update(_ context.Context, d models.Device) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.devices.get(d.ID)
	if !ok {
		return repository.ErrDeviceNotFound
	}
	for id, other := range st.devices.rows {
		if id != d.ID && other.IDDevice == d.IDDevice {
			return apperr.Conflict("duplicate value violates devices_id_device_key")
		}
	}
	if d.BatteryLevel < 0 || d.BatteryLevel > 100 {
		return apperr.BadRequest("invalid value: battery_level out of range")
	}
	cur.IDDevice, cur.BatteryLevel, cur.HelpNeeded, cur.Alert, cur.UpdatedAt =
		d.IDDevice, d.BatteryLevel, d.HelpNeeded, d.Alert, d.UpdatedAt
	st.devices.put(cur.ID, cur)
	return nil
}

func (r deviceRepo) SetPatient(_ context.Context, id string, idPatient *string, patientName *string, room *int) error {
	defer r.s.lock()()
	st := r.s.state()
	cur, ok := st.devices.get(id)
	if !ok {
		return repository.ErrDeviceNotFound
	}
	cur.IDPatient, cur.PatientName, cur.Room = idPatient, patientName, room
	cur.UpdatedAt = r.s.now()
	st.devices.put(id, cur)
	return nil
}

func (r deviceRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().devices.del(id) {
		return repository.ErrDeviceNotFound
	}
	return nil
}

type roomRepo struct{ s *Store }

func (r roomRepo) withOccupancy(st *state, room models.Room) models.Room {
	room.Occupancy = 0
	for _, p := range st.patients.rows {
		if p.ArchivedAt == nil && p.Room != nil && *p.Room == room.Name {
			room.Occupancy++
		}
	}
	return room
}

func (r roomRepo) Create(_ context.Context, room models.Room) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, cur := range st.rooms.rows {
		if cur.Name == room.Name {
			return apperr.Conflict("duplicate value violates rooms_name_key")
		}
	}
	if room.Capacity < 0 {
		return apperr.BadRequest("invalid value: capacity must not be negative")
	}
	room.Occupancy = 0
	st.rooms.put(room.ID, room)
	return nil
}

func (r roomRepo) GetByID(_ context.Context, id string) (models.Room, error) {
	defer r.s.lock()()
	st := r.s.state()
	room, ok := st.rooms.get(id)
	if !ok {
		return models.Room{}, repository.ErrRoomNotFound
	}
	return r.withOccupancy(st, room), nil
}

func (r roomRepo) GetByName(_ context.Context, name int) (models.Room, error) {
	defer r.s.lock()()
	st := r.s.state()
	for _, room := range st.rooms.rows {
		if room.Name == name {
			return r.withOccupancy(st, room), nil
		}
	}
	return models.Room{}, repository.ErrRoomNotFound
}

// LockByName needs no lock of its own: transactions are already serialised.
func (r roomRepo) LockByName(ctx context.Context, name int) (models.Room, error) {
	return r.GetByName(ctx, name)
}

func (r roomRepo) List(_ context.Context) ([]models.Room, error) {
	defer r.s.lock()()
	st := r.s.state()
	rooms := st.rooms.all()
	for i := range rooms {
		rooms[i] = r.withOccupancy(st, rooms[i])
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (r roomRepo) Update(_ context.Context, room models.Room) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.rooms.get(room.ID); !ok {
		return repository.ErrRoomNotFound
	}
	for id, other := range st.rooms.rows {
		if id != room.ID && other.Name == room.Name {
			return apperr.Conflict("duplicate value violates rooms_name_key")
		}
	}
	room.Occupancy = 0
	st.rooms.put(room.ID, room)
	return nil
}

func (r roomRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().rooms.del(id) {
		return repository.ErrRoomNotFound
	}
	return nil
}

type alertRepo struct{ s *Store }

func (r alertRepo) Create(_ context.Context, a models.Alert) error {
	defer r.s.lock()()
	r.s.state().alerts.put(a.ID, a)
	return nil
}

func (r alertRepo) GetByID(_ context.Context, id string) (models.Alert, error) {
	defer r.s.lock()()
	a, ok := r.s.state().alerts.get(id)
	if !ok {
		return models.Alert{}, repository.ErrAlertNotFound
	}
	return a, nil
}

func (r alertRepo) FindOpen(_ context.Context, idDevice string, alertType models.AlertType) (models.Alert, error) {
	defer r.s.lock()()
	all := r.s.state().alerts.all()
	for i := len(all) - 1; i >= 0; i-- {
		a := all[i]
		if a.Status == models.AlertStatusOpen && a.Type == alertType && a.IDDevice != nil && *a.IDDevice == idDevice {
			return a, nil
		}
	}
	return models.Alert{}, repository.ErrAlertNotFound
}

func (r alertRepo) List(_ context.Context, status *models.AlertStatus, limit, offset int) ([]models.Alert, int, error) {
	defer r.s.lock()()
	var out []models.Alert
	all := r.s.state().alerts.all()
	for i := len(all) - 1; i >= 0; i-- {
		if status == nil || all[i].Status == *status {
			out = append(out, all[i])
		}
	}
	return page(out, limit, offset), len(out), nil
}

func (r alertRepo) Resolve(_ context.Context, id string, at time.Time) error {
	defer r.s.lock()()
	st := r.s.state()
	a, ok := st.alerts.get(id)
	if !ok {
		return repository.ErrAlertNotFound
	}
	a.Status = models.AlertStatusResolved
	a.ResolvedAt = &at
	st.alerts.put(id, a)
	return nil
}

func (r alertRepo) RenameDevice(_ context.Context, previous, next string) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, a := range st.alerts.all() {
		if a.IDDevice != nil && *a.IDDevice == previous {
			id := next
			a.IDDevice = &id
			st.alerts.put(a.ID, a)
		}
	}
	return nil
}

func (r alertRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().alerts.del(id) {
		return repository.ErrAlertNotFound
	}
	return nil
}

type archivedRepo struct{ s *Store }

func (r archivedRepo) Create(_ context.Context, a models.ArchivedPatient) error {
	defer r.s.lock()()
	r.s.state().archived.put(a.ID, a)
	return nil
}

func (r archivedRepo) GetByID(_ context.Context, id string) (models.ArchivedPatient, error) {
	defer r.s.lock()()
	a, ok := r.s.state().archived.get(id)
	if !ok {
		return models.ArchivedPatient{}, repository.ErrArchivedPatientNotFound
	}
	return a, nil
}

func (r archivedRepo) List(_ context.Context, limit, offset int) ([]models.ArchivedPatient, int, error) {
	defer r.s.lock()()
	all := r.s.state().archived.all()
	return page(all, limit, offset), len(all), nil
}

func (r archivedRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if !r.s.state().archived.del(id) {
		return repository.ErrArchivedPatientNotFound
	}
	return nil
}

var _ repository.Store = (*Store)(nil)
