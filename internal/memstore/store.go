// Package memstore is a transactional in-memory implementation of every repository. It backs the
// service tests and the server in development when no DATABASE_URL is configured.
//
// Transactions are serialised by a single mutex and roll back by restoring a snapshot, which gives
// stronger isolation than read committed with row locks.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	accountdomain "pharma/backend/internal/account/domain"
	auditdomain "pharma/backend/internal/audit/domain"
	"pharma/backend/internal/errortrack"
	rtdomain "pharma/backend/internal/refreshtoken/domain"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

type state struct {
	users         map[string]userdomain.User
	sessions      map[string]sessiondomain.Session
	refresh       map[string]rtdomain.RefreshToken   // by id
	blacklist     map[string]rtdomain.BlacklistToken // by hash
	accountTokens map[string]accountdomain.Token     // by id
	audit         []auditdomain.AuditLog
	errors        []errortrack.Entry
	seq           map[string]int64 // session id -> insertion order
	next          int64
}

func newState() state {
	return state{
		users:         map[string]userdomain.User{},
		sessions:      map[string]sessiondomain.Session{},
		refresh:       map[string]rtdomain.RefreshToken{},
		blacklist:     map[string]rtdomain.BlacklistToken{},
		accountTokens: map[string]accountdomain.Token{},
		seq:           map[string]int64{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = copySession(v)
	}
	for k, v := range s.refresh {
		c.refresh[k] = v
	}
	for k, v := range s.blacklist {
		c.blacklist[k] = v
	}
	for k, v := range s.accountTokens {
		c.accountTokens[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.audit = append([]auditdomain.AuditLog(nil), s.audit...)
	c.errors = append([]errortrack.Entry(nil), s.errors...)
	c.next = s.next
	return c
}

func copySession(v sessiondomain.Session) sessiondomain.Session {
	if v.Location != nil {
		loc := *v.Location
		v.Location = &loc
	}
	return v
}

// Store holds all tables. Use the accessor methods for per-table repositories.
type Store struct {
	mu     sync.Mutex
	data   state
	faults map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), faults: map[string]error{}}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store mutex unless ctx is already inside one of this store's transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn with exclusive access to the store. Any error (or panic) restores the state from
// before the call. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, txKey{}, s))
}

// FailNext makes the next call of op return err. op is "<table>.<Method>", e.g. "refresh.Create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// fault must be called with the lock held.
func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

// Users returns the user repository.
func (s *Store) Users() *Users { return &Users{s: s} }

// Sessions returns the session repository.
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// RefreshTokens returns the refresh and blacklist token repository.
func (s *Store) RefreshTokens() *RefreshTokens { return &RefreshTokens{s: s} }

// AccountTokens returns the confirmation and reset code repository.
func (s *Store) AccountTokens() *AccountTokens { return &AccountTokens{s: s} }

// Audit returns the audit log repository.
func (s *Store) Audit() *Audit { return &Audit{s: s} }

// Errors returns the error-tracking recorder.
func (s *Store) Errors() *Errors { return &Errors{s: s} }

// Snapshot is a read-only view of table sizes for assertions.
type Snapshot struct {
	ActiveSessions map[string]int // by user id
	LiveRefresh    map[string]int // by session id
	Blacklisted    map[string]int // by session id
	Sessions       int
	AuditLogs      int
	Errors         int
}

// Inspect returns counts over the current state.
func (s *Store) Inspect() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ActiveSessions: map[string]int{},
		LiveRefresh:    map[string]int{},
		Blacklisted:    map[string]int{},
		Sessions:       len(s.data.sessions),
		AuditLogs:      len(s.data.audit),
		Errors:         len(s.data.errors),
	}
	for _, v := range s.data.sessions {
		if v.Active {
			snap.ActiveSessions[v.UserID]++
		}
	}
	for _, v := range s.data.refresh {
		snap.LiveRefresh[v.SessionID]++
	}
	for _, v := range s.data.blacklist {
		snap.Blacklisted[v.SessionID]++
	}
	return snap
}

// AuditLogs returns a copy of every audit entry in insertion order.
func (s *Store) AuditLogs() []auditdomain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auditdomain.AuditLog(nil), s.data.audit...)
}

// ErrorEntries returns a copy of every captured error in insertion order.
func (s *Store) ErrorEntries() []errortrack.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]errortrack.Entry(nil), s.data.errors...)
}

// sessionsOf returns the user's sessions newest first; ties keep insertion order (later first).
func (s *Store) sessionsOf(userID string) []sessiondomain.Session {
	var out []sessiondomain.Session
	for _, v := range s.data.sessions {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return s.data.seq[a.ID] > s.data.seq[b.ID]
	})
	return out
}

func expired(at, now time.Time) bool { return at.Before(now) }
