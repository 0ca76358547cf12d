package memstore

import (
	"context"
	"errors"
	"time"

	accountdomain "pharma/backend/internal/account/domain"
	auditdomain "pharma/backend/internal/audit/domain"
	"pharma/backend/internal/autherr"
	"pharma/backend/internal/errortrack"
	rtdomain "pharma/backend/internal/refreshtoken/domain"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

var errDuplicateHash = errors.New("duplicate key value violates unique constraint on token_hash")

// Users implements user/repository.Repository.
type Users struct{ s *Store }

func (r *Users) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.GetByEmail"); err != nil {
		return nil, err
	}
	return r.byEmail(email), nil
}

// GetByEmailForUpdate is GetByEmail; the store mutex already serialises transactions.
func (r *Users) GetByEmailForUpdate(ctx context.Context, email string) (*userdomain.User, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.GetByEmailForUpdate"); err != nil {
		return nil, err
	}
	return r.byEmail(email), nil
}

func (r *Users) byEmail(email string) *userdomain.User {
	email = userdomain.NormalizeEmail(email)
	for _, u := range r.s.data.users {
		if userdomain.NormalizeEmail(u.Email) == email {
			return &u
		}
	}
	return nil
}

func (r *Users) Create(ctx context.Context, u *userdomain.User) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.Create"); err != nil {
		return err
	}
	if r.byEmail(u.Email) != nil {
		return userdomain.ErrEmailTaken
	}
	r.s.data.users[u.ID] = *u
	return nil
}

func (r *Users) SetStatus(ctx context.Context, id string, status userdomain.UserStatus) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.SetStatus"); err != nil {
		return err
	}
	if u, ok := r.s.data.users[id]; ok {
		u.Status = status
		r.s.data.users[id] = u
	}
	return nil
}

func (r *Users) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.UpdatePassword"); err != nil {
		return err
	}
	if u, ok := r.s.data.users[id]; ok {
		u.PasswordHash = passwordHash
		r.s.data.users[id] = u
	}
	return nil
}

// Delete removes the user and cascades to its sessions, their tokens, and its account codes, as the
// foreign keys do in Postgres.
func (r *Users) Delete(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("users.Delete"); err != nil {
		return err
	}
	delete(r.s.data.users, id)
	for sid, v := range r.s.data.sessions {
		if v.UserID != id {
			continue
		}
		for tid, t := range r.s.data.refresh {
			if t.SessionID == sid {
				delete(r.s.data.refresh, tid)
			}
		}
		for hash, b := range r.s.data.blacklist {
			if b.SessionID == sid {
				delete(r.s.data.blacklist, hash)
			}
		}
		delete(r.s.data.sessions, sid)
		delete(r.s.data.seq, sid)
	}
	for tid, t := range r.s.data.accountTokens {
		if t.UserID == id {
			delete(r.s.data.accountTokens, tid)
		}
	}
	return nil
}

// Sessions implements session/repository.Repository.
type Sessions struct{ s *Store }

func (r *Sessions) Create(ctx context.Context, v *sessiondomain.Session) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("sessions.Create"); err != nil {
		return err
	}
	r.s.data.next++
	r.s.data.seq[v.ID] = r.s.data.next
	r.s.data.sessions[v.ID] = copySession(*v)
	return nil
}

func (r *Sessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.data.sessions[id]
	if !ok {
		return nil, nil
	}
	v = copySession(v)
	return &v, nil
}

func (r *Sessions) GetActiveByUser(ctx context.Context, userID string) (*sessiondomain.Session, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("sessions.GetActiveByUser"); err != nil {
		return nil, err
	}
	for _, v := range r.s.sessionsOf(userID) {
		if v.Active {
			v = copySession(v)
			return &v, nil
		}
	}
	return nil, nil
}

func (r *Sessions) GetLatestByUser(ctx context.Context, userID string) (*sessiondomain.Session, error) {
	defer r.s.lock(ctx)()
	list := r.s.sessionsOf(userID)
	if len(list) == 0 {
		return nil, nil
	}
	v := copySession(list[0])
	return &v, nil
}

func (r *Sessions) ListByUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	defer r.s.lock(ctx)()
	list := r.s.sessionsOf(userID)
	out := make([]*sessiondomain.Session, len(list))
	for i := range list {
		v := copySession(list[i])
		out[i] = &v
	}
	return out, nil
}

func (r *Sessions) Deactivate(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("sessions.Deactivate"); err != nil {
		return err
	}
	v, ok := r.s.data.sessions[id]
	if !ok {
		return autherr.ErrNotFound
	}
	v.Active = false
	r.s.data.sessions[id] = v
	return nil
}

func (r *Sessions) UpdateLastActivity(ctx context.Context, id string, at time.Time) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("sessions.UpdateLastActivity"); err != nil {
		return err
	}
	if v, ok := r.s.data.sessions[id]; ok {
		v.LastActivityAt = at
		r.s.data.sessions[id] = v
	}
	return nil
}

// RefreshTokens implements refreshtoken/repository.Repository.
type RefreshTokens struct{ s *Store }

func (r *RefreshTokens) Create(ctx context.Context, t *rtdomain.RefreshToken) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.Create"); err != nil {
		return err
	}
	for _, v := range r.s.data.refresh {
		if v.TokenHash == t.TokenHash {
			return autherr.Store("create refresh token", errDuplicateHash)
		}
	}
	r.s.data.refresh[t.ID] = *t
	return nil
}

func (r *RefreshTokens) GetByHash(ctx context.Context, hash string) (*rtdomain.RefreshToken, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.GetByHash"); err != nil {
		return nil, err
	}
	return r.byHash(hash), nil
}

func (r *RefreshTokens) GetByHashForUpdate(ctx context.Context, hash string) (*rtdomain.RefreshToken, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.GetByHashForUpdate"); err != nil {
		return nil, err
	}
	return r.byHash(hash), nil
}

func (r *RefreshTokens) byHash(hash string) *rtdomain.RefreshToken {
	for _, v := range r.s.data.refresh {
		if v.TokenHash == hash {
			return &v
		}
	}
	return nil
}

func (r *RefreshTokens) ListBySessionForUpdate(ctx context.Context, sessionID string) ([]*rtdomain.RefreshToken, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.ListBySessionForUpdate"); err != nil {
		return nil, err
	}
	var out []*rtdomain.RefreshToken
	for _, v := range r.s.data.refresh {
		if v.SessionID == sessionID {
			out = append(out, &v)
		}
	}
	return out, nil
}

func (r *RefreshTokens) Delete(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.Delete"); err != nil {
		return err
	}
	delete(r.s.data.refresh, id)
	return nil
}

func (r *RefreshTokens) InsertBlacklist(ctx context.Context, b *rtdomain.BlacklistToken) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.InsertBlacklist"); err != nil {
		return err
	}
	if _, ok := r.s.data.blacklist[b.TokenHash]; !ok {
		r.s.data.blacklist[b.TokenHash] = *b
	}
	return nil
}

func (r *RefreshTokens) GetBlacklisted(ctx context.Context, hash string) (*rtdomain.BlacklistToken, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.GetBlacklisted"); err != nil {
		return nil, err
	}
	b, ok := r.s.data.blacklist[hash]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *RefreshTokens) SessionOwner(ctx context.Context, sessionID string) (*rtdomain.Owner, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.data.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	u, ok := r.s.data.users[v.UserID]
	if !ok {
		return nil, nil
	}
	return &rtdomain.Owner{UserID: u.ID, Role: string(u.Role), Active: v.Active}, nil
}

func (r *RefreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fault("refresh.DeleteExpired"); err != nil {
		return 0, 0, err
	}
	var refresh, blacklist int64
	for id, v := range r.s.data.refresh {
		if expired(v.ExpiresAt, now) {
			delete(r.s.data.refresh, id)
			refresh++
		}
	}
	for hash, v := range r.s.data.blacklist {
		if expired(v.ExpiresAt, now) {
			delete(r.s.data.blacklist, hash)
			blacklist++
		}
	}
	return refresh, blacklist, nil
}

// AccountTokens implements account/repository.Repository.
type AccountTokens struct{ s *Store }

func (r *AccountTokens) Create(ctx context.Context, t *accountdomain.Token) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("account.Create"); err != nil {
		return err
	}
	r.s.data.accountTokens[t.ID] = *t
	return nil
}

func (r *AccountTokens) GetByCode(ctx context.Context, code string, purpose accountdomain.Purpose) (*accountdomain.Token, error) {
	defer r.s.lock(ctx)()
	for _, v := range r.s.data.accountTokens {
		if v.Code == code && v.Purpose == purpose {
			return &v, nil
		}
	}
	return nil, nil
}

func (r *AccountTokens) MarkUsed(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	if v, ok := r.s.data.accountTokens[id]; ok {
		v.Used = true
		r.s.data.accountTokens[id] = v
	}
	return nil
}

// Audit implements audit/repository.Repository.
type Audit struct{ s *Store }

func (r *Audit) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("audit.Create"); err != nil {
		return err
	}
	r.s.data.audit = append(r.s.data.audit, *a)
	return nil
}

func (r *Audit) ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error) {
	defer r.s.lock(ctx)()
	var out []*auditdomain.AuditLog
	for i := len(r.s.data.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if a := r.s.data.audit[i]; a.UserID == userID {
			out = append(out, &a)
		}
	}
	return out, nil
}

// Errors implements errortrack.Recorder.
type Errors struct{ s *Store }

func (r *Errors) RecordError(ctx context.Context, e *errortrack.Entry) error {
	defer r.s.lock(ctx)()
	r.s.data.errors = append(r.s.data.errors, *e)
	return nil
}
