package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// AccessRequestsRepository is the in-memory accessrequests.Repository.
type AccessRequestsRepository struct{ binding }

func (r *AccessRequestsRepository) Create(_ context.Context, ar *models.AccessRequest) error {
	defer r.lock()()
	if _, ok := r.s.data.requests[ar.ID]; ok {
		return common.ErrorAlreadyExists
	}
	if ar.Status == models.RequestInProgress {
		for _, other := range r.s.data.requests {
			if other.Status == models.RequestInProgress && other.SubjectType == ar.SubjectType &&
				other.SubjectName == ar.SubjectName && other.ObjectName == ar.ObjectName && other.Permission == ar.Permission {
				return common.ErrorAlreadyExists
			}
		}
	}
	r.s.data.requests[ar.ID] = cloneRequest(ar)
	return nil
}

func (r *AccessRequestsRepository) Get(_ context.Context, id string) (*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ar, ok := r.s.data.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneRequest(ar), nil
}

func (r *AccessRequestsRepository) filter(match func(*models.AccessRequest) bool) []*models.AccessRequest {
	var result []*models.AccessRequest
	for _, ar := range r.s.data.requests {
		if match(ar) {
			result = append(result, cloneRequest(ar))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequestedAt.After(result[j].RequestedAt) })
	return result
}

func (r *AccessRequestsRepository) FindInProgress(_ context.Context, subjectType models.SubjectType, subjectName, objectName string, perm models.PermissionType) (*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	found := r.filter(func(ar *models.AccessRequest) bool {
		return ar.Status == models.RequestInProgress && ar.SubjectType == subjectType &&
			ar.SubjectName == subjectName && ar.ObjectName == objectName && ar.Permission == perm
	})
	if len(found) == 0 {
		return nil, common.ErrorNotFound
	}
	return found[len(found)-1], nil
}

func (r *AccessRequestsRepository) Finish(_ context.Context, id string, status models.RequestStatus, finishedBy string, at time.Time) error {
	defer r.lock()()
	ar, ok := r.s.data.requests[id]
	if !ok || ar.Status != models.RequestInProgress {
		return common.ErrConflict
	}
	ar.Status = status
	ar.FinishedBy = finishedBy
	ar.FinishedAt = &at
	return nil
}

func (r *AccessRequestsRepository) ListBySubject(_ context.Context, subjectType models.SubjectType, subjectName string) ([]*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.filter(func(ar *models.AccessRequest) bool {
		return ar.SubjectType == subjectType && ar.SubjectName == subjectName
	}), nil
}

func (r *AccessRequestsRepository) ListByRecipient(_ context.Context, recipient models.Subject) ([]*models.AccessRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.filter(func(ar *models.AccessRequest) bool {
		return ar.Status == models.RequestInProgress && slices.Contains(ar.Recipients, recipient)
	}), nil
}

func (r *AccessRequestsRepository) DeleteByObject(_ context.Context, objectName string) (int64, error) {
	defer r.lock()()
	var n int64
	for id, ar := range r.s.data.requests {
		if ar.ObjectName == objectName {
			delete(r.s.data.requests, id)
			n++
		}
	}
	return n, nil
}
