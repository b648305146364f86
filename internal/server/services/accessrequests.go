package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/notify"
)

// errRequestFinished aborts a decision whose request was finished concurrently.
var errRequestFinished = errors.New("access request already finished")

// AccessRequestWorkflow lets subjects ask for access to a secret and lets
// GrantAccess holders approve or deny those asks. Unauthorized callers and
// unknown requests or secrets get a silent false, so the workflow cannot be
// used to probe for existence.
type AccessRequestWorkflow struct {
	store    Store
	authz    *AuthorizationResolver
	notifier notify.Notifier
	clock    clock.Clock
	log      logging.Logger
}

// NewAccessRequestWorkflow wires the workflow. A nil notifier drops messages.
func NewAccessRequestWorkflow(store Store, authz *AuthorizationResolver, notifier notify.Notifier, clk clock.Clock, log logging.Logger) *AccessRequestWorkflow {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AccessRequestWorkflow{
		store:    store,
		authz:    authz,
		notifier: notifier,
		clock:    clk,
		log:      log.With("module", "accessrequests"),
	}
}

func normalizeSubject(s models.Subject) models.Subject {
	return models.Subject{Type: s.Type, ID: common.NormalizeSubjectID(s.ID)}
}

// RequestAccess records a request by requester for perm on the secret and
// notifies every current GrantAccess holder. An identical request still in
// progress is returned as is. A nil request with a nil error means the secret
// does not exist.
func (w *AccessRequestWorkflow) RequestAccess(ctx context.Context, requester models.Subject, secretID string, perm models.PermissionType) (*models.AccessRequest, error) {
	requester = normalizeSubject(requester)
	if !requester.Type.Valid() || requester.ID == "" || perm.IsEmpty() {
		return nil, fmt.Errorf("request by %s for %s: %w", requester, perm, common.ErrorValidation)
	}

	if _, err := w.store.Repos.Secrets(w.store.DB).Get(ctx, secretID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			w.log.Info(ctx, "access requested for unknown secret", "secret_id", secretID, "requester", requester.String())
			return nil, nil
		}
		return nil, fmt.Errorf("load secret: %w", err)
	}

	holders, err := w.authz.SubjectsWith(ctx, secretID, models.PermissionGrantAccess)
	if err != nil {
		return nil, err
	}
	recipients := make([]models.Subject, 0, len(holders))
	for _, h := range holders {
		if h != requester {
			recipients = append(recipients, h)
		}
	}

	var (
		request *models.AccessRequest
		created bool
	)
	err = w.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := w.store.Repos.AccessRequests(w.store.handle(tx))

		existing, err := repo.FindInProgress(ctx, requester.Type, requester.ID, secretID, perm)
		if err == nil {
			request = existing
			return nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		request = &models.AccessRequest{
			ID:          uuid.NewString(),
			SubjectType: requester.Type,
			SubjectName: requester.ID,
			ObjectName:  secretID,
			Permission:  perm,
			Recipients:  recipients,
			Status:      models.RequestInProgress,
			RequestedAt: w.clock.Now(),
		}
		err = repo.Create(ctx, request)
		if errors.Is(err, common.ErrorAlreadyExists) {
			request, err = repo.FindInProgress(ctx, requester.Type, requester.ID, secretID, perm)
			return err
		}
		created = err == nil
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store access request: %w", err)
	}

	if !created {
		w.log.Debug(ctx, "identical access request in progress", "request_id", request.ID)
		return request, nil
	}

	w.log.Info(ctx, "access requested",
		"request_id", request.ID,
		"secret_id", secretID,
		"requester", requester.String(),
		"permission", perm.String(),
		"recipients", len(recipients))

	msg := notify.Message{
		Kind:       notify.KindAccessRequested,
		RequestID:  request.ID,
		SecretID:   secretID,
		Requester:  requester,
		Permission: perm,
		Status:     request.Status,
	}
	for _, to := range request.Recipients {
		w.notify(ctx, to, msg)
	}
	return request, nil
}

// ApproveAccessRequest grants the requested bits to the requester and marks
// the request approved. It returns false without changing anything unless
// approver holds GrantAccess on the secret and the request is in progress.
func (w *AccessRequestWorkflow) ApproveAccessRequest(ctx context.Context, approver models.Subject, requestID, secretID string) (bool, error) {
	return w.decide(ctx, approver, requestID, secretID, models.RequestApproved)
}

// DenyAccessRequest marks the request rejected under the same conditions as
// ApproveAccessRequest. Nothing is granted.
func (w *AccessRequestWorkflow) DenyAccessRequest(ctx context.Context, approver models.Subject, requestID, secretID string) (bool, error) {
	return w.decide(ctx, approver, requestID, secretID, models.RequestRejected)
}

func (w *AccessRequestWorkflow) decide(ctx context.Context, approver models.Subject, requestID, secretID string, status models.RequestStatus) (bool, error) {
	approver = normalizeSubject(approver)
	log := w.log.With("request_id", requestID, "secret_id", secretID, "approver", approver.String(), "decision", string(status))

	ok, err := w.authz.IsAuthorized(ctx, approver.Type, approver.ID, secretID, models.PermissionGrantAccess)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Info(ctx, "approver lacks GrantAccess")
		return false, nil
	}

	if _, err := uuid.Parse(requestID); err != nil {
		log.Info(ctx, "malformed access request id")
		return false, nil
	}

	request, err := w.store.Repos.AccessRequests(w.store.DB).Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			log.Info(ctx, "access request not found")
			return false, nil
		}
		return false, fmt.Errorf("load access request: %w", err)
	}
	if request.ObjectName != secretID || request.Status != models.RequestInProgress {
		log.Info(ctx, "access request not decidable", "object", request.ObjectName, "status", string(request.Status))
		return false, nil
	}

	now := w.clock.Now()
	err = w.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if status == models.RequestApproved {
			if err := w.authz.SetPermission(ctx, tx, secretID, request.SubjectType, request.SubjectName, request.Permission); err != nil {
				return err
			}
		}
		err := w.store.Repos.AccessRequests(w.store.handle(tx)).Finish(ctx, request.ID, status, approver.ID, now)
		if errors.Is(err, common.ErrConflict) {
			return errRequestFinished
		}
		return err
	})
	if errors.Is(err, errRequestFinished) {
		log.Info(ctx, "access request finished concurrently")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finish access request: %w", err)
	}

	log.Info(ctx, "access request finished", "requester", request.Requester().String(), "permission", request.Permission.String())
	w.notify(ctx, request.Requester(), notify.Message{
		Kind:       notify.KindAccessDecided,
		RequestID:  request.ID,
		SecretID:   secretID,
		Requester:  request.Requester(),
		Permission: request.Permission,
		Status:     status,
	})
	return true, nil
}

// ListOutgoing returns the requests made by subject.
func (w *AccessRequestWorkflow) ListOutgoing(ctx context.Context, subject models.Subject) ([]*models.AccessRequest, error) {
	subject = normalizeSubject(subject)
	return w.store.Repos.AccessRequests(w.store.DB).ListBySubject(ctx, subject.Type, subject.ID)
}

// ListIncoming returns the in-progress requests subject was asked to decide.
func (w *AccessRequestWorkflow) ListIncoming(ctx context.Context, subject models.Subject) ([]*models.AccessRequest, error) {
	return w.store.Repos.AccessRequests(w.store.DB).ListByRecipient(ctx, normalizeSubject(subject))
}

func (w *AccessRequestWorkflow) notify(ctx context.Context, to models.Subject, msg notify.Message) {
	if err := w.notifier.Notify(ctx, to, msg); err != nil {
		w.log.Warn(ctx, "notification failed", "to", to.String(), "kind", string(msg.Kind), "error", err)
	}
}
