// Package app wires the ledger, blob store, vector index, transcripts and
// the model backend into the operations the HTTP layer exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ragserve/internal/ingest"
	"ragserve/internal/ledger"
	"ragserve/internal/rag"
	"ragserve/internal/session"
	"ragserve/internal/util"
	"ragserve/internal/vectorindex"
	"ragserve/pkg/ai"
	"ragserve/pkg/domain"
	"ragserve/pkg/queue"
	"ragserve/pkg/storage"
	"ragserve/pkg/stream"
)

// ErrNotFound marks lookups that resolved to nothing the caller owns.
var ErrNotFound = errors.New("not found")

// ErrUpload marks failures while accepting a file.
var ErrUpload = errors.New("upload failed")

// App is the service core. All operations are owner-scoped: a user ID from
// a verified token is the only handle into any state.
type App struct {
	Ledger      *ledger.Ledger
	Blobs       storage.BlobStore
	Index       vectorindex.Index
	Chunker     *ingest.Chunker
	Embedder    ai.Embedder
	Pipeline    *rag.Pipeline
	Transcripts *session.TranscriptStore
	Tokens      *session.TokenIssuer
	Queue       *queue.EmbedQueue

	RetentionMaxAge time.Duration
}

// LoginResult is what a successful login hands back.
type LoginResult struct {
	Token       string               `json:"token"`
	DisplayName string               `json:"displayName"`
	Registered  bool                 `json:"registered"`
	History     []domain.ChatMessage `json:"history"`
	Files       []string             `json:"files"`
}

// Login authenticates a user, registering the account on first contact.
// On failure the message distinguishes a bad password from a storage
// problem; an unknown user is silently registered instead.
func (a *App) Login(ctx context.Context, userID, displayName, password string) (LoginResult, string, bool) {
	registered := false
	if !a.Ledger.Exists(userID) {
		if !a.Ledger.Register(userID, displayName, password) {
			return LoginResult{}, ledger.MsgStorageError, false
		}
		registered = true
	}
	ok, msg := a.Ledger.Authenticate(userID, password)
	if !ok {
		return LoginResult{}, msg, false
	}
	token, err := a.Tokens.NewToken(userID)
	if err != nil {
		slog.Error("issue token", "user", userID, "err", err)
		return LoginResult{}, "could not issue session token", false
	}
	history, err := a.Transcripts.History(ctx, userID)
	if err != nil {
		slog.Warn("load history", "user", userID, "err", err)
		history = []domain.ChatMessage{}
	}
	return LoginResult{
		Token:       token,
		DisplayName: msg,
		Registered:  registered,
		History:     history,
		Files:       a.Ledger.ListActiveFiles(userID),
	}, "", true
}

// Upload stores the raw bytes and records the ledger row. The stored name
// is server-generated; the original name survives only inside it. If the
// ledger insert fails the blob is rolled back.
func (a *App) Upload(ctx context.Context, ownerID, originalName string, r io.Reader, size int64, contentType string) (string, int64, error) {
	serverName := util.ServerFilename(originalName)
	key := blobKey(ownerID, serverName)
	if err := a.Blobs.Put(ctx, key, r, size, contentType); err != nil {
		return "", ledger.NoFile, fmt.Errorf("%w: store blob: %v", ErrUpload, err)
	}
	fileID := a.Ledger.RecordUpload(ownerID, serverName)
	if fileID == ledger.NoFile {
		if err := a.Blobs.Delete(ctx, key); err != nil {
			slog.Warn("orphan blob after failed ledger insert", "key", key, "err", err)
		}
		return "", ledger.NoFile, fmt.Errorf("%w: ledger insert", ErrUpload)
	}
	return serverName, fileID, nil
}

// EnqueueEmbed hands an uploaded file to the background embed workers. With
// no queue configured the work runs inline and a synthetic done/failed job
// is returned.
func (a *App) EnqueueEmbed(ctx context.Context, ownerID, filename string) (queue.EmbedJob, error) {
	fileID, ok := a.Ledger.ResolveFileID(ownerID, filename)
	if !ok {
		return queue.EmbedJob{}, fmt.Errorf("%w: no active upload named %q", ErrNotFound, filename)
	}
	if a.Queue != nil {
		return a.Queue.Enqueue(ctx, ownerID, fileID, filename)
	}
	job := queue.EmbedJob{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		FileID:   fileID,
		Filename: filename,
		Status:   queue.StatusDone,
		Attempts: 1,
	}
	if err := a.EmbedFile(ctx, ownerID, fileID, filename); err != nil {
		job.Status = queue.StatusFailed
		job.ErrorMessage = err.Error()
		return job, err
	}
	return job, nil
}

// EmbedFile chunks a stored upload, embeds each chunk, indexes the vectors
// and records the chunk-to-vector links in the ledger.
func (a *App) EmbedFile(ctx context.Context, ownerID string, fileID int64, filename string) error {
	rc, err := a.Blobs.Get(ctx, blobKey(ownerID, filename))
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	chunks, err := a.Chunker.ChunkFile(filename, data)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", filename, err)
	}
	for _, chunk := range chunks {
		vec, err := a.Embedder.EmbedText(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		vectorID := uuid.NewString()
		entry := vectorindex.Entry{
			VectorID: vectorID,
			FileID:   fileID,
			Content:  chunk.Content,
			Metadata: chunk.Metadata,
		}
		if err := a.Index.Upsert(ctx, entry, vec); err != nil {
			return fmt.Errorf("index chunk: %w", err)
		}
		if !a.Ledger.RecordEmbedding(fileID, vectorID) {
			return fmt.Errorf("record embedding for file %d", fileID)
		}
	}
	slog.Info("file embedded", "owner", ownerID, "fileId", fileID, "chunks", len(chunks))
	return nil
}

// ListUploads returns the owner's active filenames, oldest first.
func (a *App) ListUploads(ownerID string) []string {
	return a.Ledger.ListActiveFiles(ownerID)
}

// Preview opens a stored upload for inline display. Ownership is enforced
// through the ledger, not the blob key.
func (a *App) Preview(ctx context.Context, ownerID, filename string) (io.ReadCloser, error) {
	if _, ok := a.Ledger.ResolveFileID(ownerID, filename); !ok {
		return nil, fmt.Errorf("%w: no active upload named %q", ErrNotFound, filename)
	}
	return a.Blobs.Get(ctx, blobKey(ownerID, filename))
}

// Ask runs one chat turn: the question is appended to the transcript, the
// pipeline streams context and content frames through em, and the reply is
// appended on success. A pipeline failure becomes an error frame, which
// ends the turn without a transcript entry for the half-built reply.
func (a *App) Ask(ctx context.Context, em *stream.Emitter, ownerID, question string) error {
	uploads := a.Ledger.ActiveUploads(ownerID)
	fileIDs := make([]int64, 0, len(uploads))
	filenames := make([]string, 0, len(uploads))
	for _, up := range uploads {
		fileIDs = append(fileIDs, up.FileID)
		filenames = append(filenames, up.Filename)
	}

	human := domain.ChatMessage{Type: domain.MessageHuman, Content: question, Filenames: filenames}
	if err := a.Transcripts.Append(ctx, ownerID, human); err != nil {
		slog.Warn("append human message", "user", ownerID, "err", err)
	}

	reply, docs, err := a.Pipeline.Answer(ctx, em, question, fileIDs)
	if err != nil {
		slog.Error("chat turn failed", "user", ownerID, "err", err)
		if emitErr := em.Error(ctx, "generation failed"); emitErr != nil {
			return emitErr
		}
		return nil
	}

	if err := em.Metadata(ctx, map[string]any{"filenames": filenames}); err != nil {
		return err
	}

	aiMsg := domain.ChatMessage{
		Type:      domain.MessageAI,
		Content:   reply,
		Filenames: filenames,
		Documents: docs,
	}
	if err := a.Transcripts.Append(ctx, ownerID, aiMsg); err != nil {
		slog.Warn("append ai message", "user", ownerID, "err", err)
	}
	return nil
}

// ClearUserFiles reclaims everything the owner has, regardless of age. The
// external state goes first: index entries, then blobs; the ledger rows are
// tombstoned last so a crash leaves re-scannable rows rather than dangling
// references.
func (a *App) ClearUserFiles(ctx context.Context, ownerID string) (int, int, error) {
	uploads := a.Ledger.ActiveUploads(ownerID)
	if len(uploads) == 0 {
		return 0, 0, nil
	}
	fileIDs := make([]int64, 0, len(uploads))
	for _, up := range uploads {
		fileIDs = append(fileIDs, up.FileID)
	}
	vectorIDs := a.Ledger.ActiveVectorIDs(fileIDs)

	if len(vectorIDs) > 0 {
		if err := a.Index.Delete(ctx, vectorIDs); err != nil {
			return 0, 0, fmt.Errorf("delete index entries: %w", err)
		}
		if !a.Ledger.MarkVectorsRemoved(vectorIDs) {
			return 0, 0, errors.New("mark vectors removed: partial or failed")
		}
	}

	removed := 0
	for _, up := range uploads {
		if err := a.Blobs.Delete(ctx, blobKey(ownerID, up.Filename)); err != nil {
			slog.Warn("delete blob", "owner", ownerID, "filename", up.Filename, "err", err)
		}
		if a.Ledger.MarkRemoved(ownerID, up.FileID) {
			removed++
		}
	}
	return removed, len(vectorIDs), nil
}

// ReclaimExpired is the retention pass for one owner: files older than the
// configured age, and their vectors, are deleted externally and then
// tombstoned. The returned set names what was reclaimed.
func (a *App) ReclaimExpired(ctx context.Context, ownerID string) (domain.ReclaimSet, error) {
	set := a.Ledger.FindReclaimable(ownerID, a.RetentionMaxAge)
	if len(set.Files) == 0 {
		return set, nil
	}
	if len(set.Embeddings) > 0 {
		if err := a.Index.Delete(ctx, set.Embeddings); err != nil {
			return set, fmt.Errorf("delete index entries: %w", err)
		}
		if !a.Ledger.MarkVectorsRemoved(set.Embeddings) {
			return set, errors.New("mark vectors removed: partial or failed")
		}
	}
	for _, filename := range set.Files {
		if err := a.Blobs.Delete(ctx, blobKey(ownerID, filename)); err != nil {
			slog.Warn("delete blob", "owner", ownerID, "filename", filename, "err", err)
		}
		if fileID, ok := a.Ledger.ResolveFileID(ownerID, filename); ok {
			a.Ledger.MarkRemoved(ownerID, fileID)
		}
	}
	return set, nil
}

// ClearChatHistory drops the owner's transcript.
func (a *App) ClearChatHistory(ctx context.Context, ownerID string) error {
	return a.Transcripts.Clear(ctx, ownerID)
}

// StartEmbedWorkers attaches the embed pipeline to the queue consumers.
func (a *App) StartEmbedWorkers(ctx context.Context, concurrency int) {
	if a.Queue == nil {
		return
	}
	a.Queue.Start(ctx, concurrency, func(jobCtx context.Context, job queue.EmbedJob) error {
		return a.EmbedFile(jobCtx, job.OwnerID, job.FileID, job.Filename)
	})
}

func blobKey(ownerID, filename string) string {
	return ownerID + "/" + filename
}
