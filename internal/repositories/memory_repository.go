package repositories

import (
	"context"
	"sync"
	"time"

	"campuspay/internal/models"
)

type memUserRepo struct {
	mu      sync.RWMutex
	users   map[string]*models.User // id -> user
	byEmail map[string]string       // email -> id
}

// NewMemoryUserRepository keeps credentials in process memory. Used for local
// runs and tests.
func NewMemoryUserRepository() UserRepository {
	return &memUserRepo{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return ErrDuplicateEmail
	}
	cp := *user
	r.users[user.ID] = &cp
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.users[id]
	return &cp, nil
}

func (r *memUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email]
	return ok, nil
}

type memOTPRepo struct {
	mu    sync.Mutex
	codes map[string]models.OTPChallenge
}

func NewMemoryOTPRepository() OTPRepository {
	return &memOTPRepo{codes: make(map[string]models.OTPChallenge)}
}

func (r *memOTPRepo) Upsert(_ context.Context, ch *models.OTPChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[ch.Identifier] = models.OTPChallenge{
		Identifier: ch.Identifier,
		Code:       ch.Code,
		IssuedAt:   ch.IssuedAt,
	}
	return nil
}

func (r *memOTPRepo) Get(_ context.Context, identifier string) (*models.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.codes[identifier]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (r *memOTPRepo) MarkVerified(_ context.Context, identifier, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.codes[identifier]
	if !ok || ch.Code != code {
		return ErrNotFound
	}
	ch.Verified = true
	r.codes[identifier] = ch
	return nil
}

func (r *memOTPRepo) IncrementAttempts(_ context.Context, identifier, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.codes[identifier]
	if !ok || ch.Code != code {
		return 0, ErrNotFound
	}
	ch.Attempts++
	r.codes[identifier] = ch
	return ch.Attempts, nil
}

func (r *memOTPRepo) Delete(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, identifier)
	return nil
}

func (r *memOTPRepo) DeleteIssuedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ch := range r.codes {
		if !ch.IssuedAt.After(cutoff) {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}
