package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/dbx"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/auth"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/blobstore"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
	"golang.org/x/crypto/blake2b"
)

// ContentInput describes a content item to create.
type ContentInput struct {
	ContentType string
	FileName    string
}

// ContentLifecycleManager drives the Blank -> Updating -> Ready state machine
// of content items and gates chunk writes with access tickets. Read
// permission is checked by callers.
type ContentLifecycleManager struct {
	store   Store
	blobs   blobstore.Store
	tickets *auth.TicketIssuer
	clock   clock.Clock
	log     logging.Logger
}

// NewContentLifecycleManager wires the manager.
func NewContentLifecycleManager(store Store, blobs blobstore.Store, tickets *auth.TicketIssuer, clk clock.Clock, log logging.Logger) *ContentLifecycleManager {
	return &ContentLifecycleManager{
		store:   store,
		blobs:   blobs,
		tickets: tickets,
		clock:   clk,
		log:     log.With("module", "content"),
	}
}

// newContentName returns a name made of the creation time and random bytes.
func newContentName(c clock.Clock) (string, error) {
	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		return "", err
	}
	return c.Now().Format("20060102150405") + "-" + suffix, nil
}

func (m *ContentLifecycleManager) newContent(secretID string, position int, isMain bool, in ContentInput) (*models.ContentMetadata, error) {
	name, err := newContentName(m.clock)
	if err != nil {
		return nil, fmt.Errorf("content name: %w", err)
	}
	return &models.ContentMetadata{
		SecretID:    secretID,
		ContentName: name,
		Position:    position,
		IsMain:      isMain,
		ContentType: in.ContentType,
		FileName:    in.FileName,
		Status:      models.ContentBlank,
	}, nil
}

// CreateContent appends a blank content item to an existing secret.
func (m *ContentLifecycleManager) CreateContent(ctx context.Context, secretID string, in ContentInput) (*models.ContentMetadata, error) {
	var created *models.ContentMetadata
	err := m.store.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		db := m.store.handle(tx)
		if _, err := m.store.Repos.Secrets(db).Get(ctx, secretID); err != nil {
			return err
		}
		existing, err := m.store.Repos.Contents(db).ListBySecret(ctx, secretID)
		if err != nil {
			return err
		}
		position := 0
		for _, c := range existing {
			if c.Position >= position {
				position = c.Position + 1
			}
		}
		c, err := m.newContent(secretID, position, false, in)
		if err != nil {
			return err
		}
		if err := m.store.Repos.Contents(db).Create(ctx, c); err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create content: %w", err)
	}
	m.log.Info(ctx, "content created", "secret_id", secretID, "content", created.ContentName, "position", created.Position)
	return created, nil
}

// BeginUpdate opens a new upload session and returns its ticket. Any earlier
// ticket of the content stops working and previously stored chunks are
// dropped.
func (m *ContentLifecycleManager) BeginUpdate(ctx context.Context, secretID, contentName string) (string, error) {
	repo := m.store.Repos.Contents(m.store.DB)

	content, err := repo.Get(ctx, secretID, contentName)
	if err != nil {
		return "", fmt.Errorf("load content: %w", err)
	}

	ticket, setAt, err := m.tickets.Issue(secretID, contentName)
	if err != nil {
		return "", err
	}
	if err := repo.BeginUpdate(ctx, secretID, contentName, ticket, setAt); err != nil {
		return "", fmt.Errorf("begin update: %w", err)
	}

	for _, ch := range content.Chunks {
		m.deleteBlob(ctx, secretID, ch.ChunkName)
	}

	m.log.Info(ctx, "content update started",
		"secret_id", secretID,
		"content", contentName,
		"previous_status", string(content.Status),
		"dropped_chunks", len(content.Chunks))
	return ticket, nil
}

// checkTicket fails with common.ErrConflict unless ticket is the live ticket
// of an updating content.
func (m *ContentLifecycleManager) checkTicket(c *models.ContentMetadata, ticket string) error {
	if c.Status != models.ContentUpdating || ticket == "" || ticket != c.AccessTicket {
		return fmt.Errorf("stale access ticket: %w", common.ErrConflict)
	}
	if !m.clock.Now().Before(c.AccessTicketSetAt.Add(m.tickets.Timeout())) {
		return fmt.Errorf("expired access ticket: %w", common.ErrConflict)
	}
	if err := m.tickets.Verify(ticket, c.SecretID, c.ContentName); err != nil {
		return fmt.Errorf("access ticket rejected (%v): %w", err, common.ErrConflict)
	}
	return nil
}

// UploadChunk stores body as the next chunk of the content. The body is
// written to the blob store first; the chunk is recorded only if ticket is
// still live at that moment, otherwise the body is removed again and
// common.ErrConflict is returned. Positions follow the order in which chunks
// are recorded.
func (m *ContentLifecycleManager) UploadChunk(ctx context.Context, secretID, contentName, ticket string, body []byte) (*models.ChunkMetadata, error) {
	repo := m.store.Repos.Contents(m.store.DB)

	content, err := repo.Get(ctx, secretID, contentName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("upload to missing content: %w", common.ErrConflict)
		}
		return nil, fmt.Errorf("load content: %w", err)
	}
	if err := m.checkTicket(content, ticket); err != nil {
		return nil, err
	}

	suffix, err := common.MakeRandHexString(8)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(body)
	chunk := &models.ChunkMetadata{
		ChunkName: contentName + "-" + suffix,
		Hash:      hex.EncodeToString(sum[:]),
		Length:    int64(len(body)),
	}

	if err := m.blobs.Upload(ctx, blobstore.ChunkKey(secretID, chunk.ChunkName), body); err != nil {
		return nil, fmt.Errorf("store chunk: %w", err)
	}

	if err := repo.AppendChunk(ctx, secretID, contentName, ticket, chunk); err != nil {
		m.deleteBlob(ctx, secretID, chunk.ChunkName)
		return nil, fmt.Errorf("record chunk: %w", err)
	}

	m.log.Debug(ctx, "chunk stored", "secret_id", secretID, "content", contentName, "chunk", chunk.ChunkName, "length", chunk.Length)
	return chunk, nil
}

// FinalizeContent closes the upload session and makes the content readable.
func (m *ContentLifecycleManager) FinalizeContent(ctx context.Context, secretID, contentName, ticket string) error {
	repo := m.store.Repos.Contents(m.store.DB)

	content, err := repo.Get(ctx, secretID, contentName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("finalize missing content: %w", common.ErrConflict)
		}
		return fmt.Errorf("load content: %w", err)
	}
	if err := m.checkTicket(content, ticket); err != nil {
		return err
	}
	if err := repo.Finalize(ctx, secretID, contentName, ticket); err != nil {
		return fmt.Errorf("finalize content: %w", err)
	}

	m.log.Info(ctx, "content ready", "secret_id", secretID, "content", contentName,
		"chunks", len(content.Chunks), "length", content.Length())
	return nil
}

func (m *ContentLifecycleManager) readyContent(ctx context.Context, secretID, contentName string) (*models.ContentMetadata, error) {
	content, err := m.store.Repos.Contents(m.store.DB).Get(ctx, secretID, contentName)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if content.Status != models.ContentReady {
		return nil, common.ErrContentNotReady
	}
	return content, nil
}

func (m *ContentLifecycleManager) downloadVerified(ctx context.Context, secretID string, ch *models.ChunkMetadata) ([]byte, error) {
	body, err := m.blobs.Download(ctx, blobstore.ChunkKey(secretID, ch.ChunkName))
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", ch.ChunkName, err)
	}
	sum := blake2b.Sum256(body)
	if int64(len(body)) != ch.Length || hex.EncodeToString(sum[:]) != ch.Hash {
		return nil, fmt.Errorf("chunk %s failed integrity check: %w", ch.ChunkName, common.ErrorInternal)
	}
	return body, nil
}

// DownloadChunk returns one chunk body of a ready content.
func (m *ContentLifecycleManager) DownloadChunk(ctx context.Context, secretID, contentName, chunkName string) ([]byte, error) {
	content, err := m.readyContent(ctx, secretID, contentName)
	if err != nil {
		return nil, err
	}
	for _, ch := range content.Chunks {
		if ch.ChunkName == chunkName {
			return m.downloadVerified(ctx, secretID, ch)
		}
	}
	return nil, fmt.Errorf("chunk %s: %w", chunkName, common.ErrorNotFound)
}

// DownloadAllContent returns the concatenated chunks of a ready content.
func (m *ContentLifecycleManager) DownloadAllContent(ctx context.Context, secretID, contentName string) ([]byte, error) {
	content, err := m.readyContent(ctx, secretID, contentName)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, content.Length())
	for _, ch := range content.Chunks {
		body, err := m.downloadVerified(ctx, secretID, ch)
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
	}
	return out, nil
}

// DeleteContent removes a non-main content item and its chunk bodies.
func (m *ContentLifecycleManager) DeleteContent(ctx context.Context, secretID, contentName string) error {
	repo := m.store.Repos.Contents(m.store.DB)

	content, err := repo.Get(ctx, secretID, contentName)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	if content.IsMain {
		return fmt.Errorf("main content cannot be deleted: %w", common.ErrorValidation)
	}

	for _, ch := range content.Chunks {
		m.deleteBlob(ctx, secretID, ch.ChunkName)
	}
	if err := repo.Delete(ctx, secretID, contentName); err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	m.log.Info(ctx, "content deleted", "secret_id", secretID, "content", contentName)
	return nil
}

func (m *ContentLifecycleManager) deleteBlob(ctx context.Context, secretID, chunkName string) {
	if _, err := m.blobs.DeleteIfExists(ctx, blobstore.ChunkKey(secretID, chunkName)); err != nil {
		m.log.Warn(ctx, "chunk body not deleted", "secret_id", secretID, "chunk", chunkName, "error", err)
	}
}
