package memory

import (
	"context"
	"sort"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// SecretsRepository is the in-memory secrets.Repository.
type SecretsRepository struct{ binding }

func (r *SecretsRepository) Create(_ context.Context, m *models.ObjectMetadata) error {
	defer r.lock()()
	if _, ok := r.s.data.secrets[m.SecretID]; ok {
		return common.ErrorAlreadyExists
	}
	r.s.data.secrets[m.SecretID] = cloneSecret(m)
	return nil
}

func (r *SecretsRepository) Get(_ context.Context, secretID string) (*models.ObjectMetadata, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.data.secrets[secretID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneSecret(m), nil
}

func (r *SecretsRepository) TouchLastAccessed(_ context.Context, secretID string, at time.Time) error {
	defer r.lock()()
	if m, ok := r.s.data.secrets[secretID]; ok && m.LastAccessedAt.Before(at) {
		m.LastAccessedAt = at
	}
	return nil
}

func (r *SecretsRepository) UpdateExpiration(_ context.Context, secretID string, exp models.ExpirationMetadata, modifiedBy string, at time.Time) error {
	defer r.lock()()
	m, ok := r.s.data.secrets[secretID]
	if !ok {
		return common.ErrorNotFound
	}
	m.Expiration = exp
	m.ModifiedBy = modifiedBy
	m.ModifiedAt = at
	return nil
}

func (r *SecretsRepository) Delete(_ context.Context, secretID string) error {
	defer r.lock()()
	delete(r.s.data.secrets, secretID)
	return nil
}

func (r *SecretsRepository) ListExpirationCandidates(_ context.Context, now time.Time, includeIdle bool) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for id, m := range r.s.data.secrets {
		e := m.Expiration
		if (e.ScheduleExpiration && !e.ExpireAt.After(now)) || (includeIdle && e.ExpireOnIdleTime) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
