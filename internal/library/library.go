// Package library is the application surface over the local store and
// the sync machinery. Every mutation completes optimistically against
// the store first, enqueues its remote write, and then lets the engine
// drain in the background; callers never block on the network for a
// local edit.
package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vonshlovens/prompit/internal/errs"
	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
	syncer "github.com/vonshlovens/prompit/internal/sync"
)

// Authenticator is the login half of the remote contract. *remote.DB
// implements it.
type Authenticator interface {
	RequestLoginCode(ctx context.Context, email string) error
	VerifyLoginCode(ctx context.Context, email, code string) (string, error)
}

// Service wires the store, identity, queue, and sync engine together.
// A Service without an attached remote still serves every local
// operation; mutations simply accumulate in the queue.
type Service struct {
	store *store.Store
	ids   *identity.Context
	queue *syncer.Queue

	engine     *syncer.Engine
	reconciler *syncer.Reconciler
	migrator   *syncer.Migrator
	auth       Authenticator
}

// NewService builds the local-only surface.
func NewService(st *store.Store, ids *identity.Context) *Service {
	return &Service{
		store: st,
		ids:   ids,
		queue: syncer.NewQueue(st),
	}
}

// AttachRemote enables syncing against a remote store.
func (s *Service) AttachRemote(rs syncer.RemoteStore, auth Authenticator, opts syncer.Options) {
	s.engine = syncer.NewEngine(rs, s.store, s.queue, s.ids, opts)
	s.reconciler = syncer.NewReconciler(rs, s.store, s.queue, s.ids)
	s.migrator = syncer.NewMigrator(rs, s.store, s.queue, s.ids)
	s.auth = auth
}

// Engine exposes the drain engine, or nil when no remote is attached.
func (s *Service) Engine() *syncer.Engine { return s.engine }

// Identity returns the identity context.
func (s *Service) Identity() *identity.Context { return s.ids }

// Store returns the underlying local store.
func (s *Service) Store() *store.Store { return s.store }

// Pending returns the number of queued mutations.
func (s *Service) Pending() int { return s.queue.Len() }

// drain runs a synchronous queue drain when a remote is attached.
func (s *Service) drain(ctx context.Context) {
	if s.engine != nil {
		s.engine.Process(ctx)
	}
}

// RecordInput carries the caller-editable fields of a record.
type RecordInput struct {
	Title     string
	Body      string
	Tags      []string
	Category  string
	Favorite  bool
	FolderRef *string
}

// CreateRecord stores a new prompt and queues its upload. An empty
// category falls back to "other"; an unknown category is added to the
// category set as a side effect.
func (s *Service) CreateRecord(ctx context.Context, in RecordInput) (*model.Record, error) {
	if in.Category == "" {
		in.Category = "other"
	}

	rec := &model.Record{
		LocalID:    uuid.NewString(),
		Title:      in.Title,
		Body:       in.Body,
		Tags:       in.Tags,
		Category:   in.Category,
		Favorite:   in.Favorite,
		FolderRef:  in.FolderRef,
		Owner:      s.ids.CurrentOwner(),
		SyncStatus: model.StatusPending,
	}

	stored, err := s.store.SaveRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureCategory(in.Category); err != nil {
		slog.Warn("failed to register category", "category", in.Category, "error", err)
	}

	if err := s.queue.Enqueue(model.QueueEntry{
		Operation: model.OpCreate,
		Entity:    model.EntityRecord,
		LocalID:   stored.LocalID,
		Record:    stored.Clone(),
	}); err != nil {
		return nil, err
	}

	s.drain(ctx)
	return stored, nil
}

// UpdateRecord applies an edit to an existing record and queues the
// upload. The mutation runs against a copy; apply must not retain it.
func (s *Service) UpdateRecord(ctx context.Context, localID string, apply func(*model.Record)) (*model.Record, error) {
	rec, ok := s.store.Record(localID)
	if !ok {
		return nil, fmt.Errorf("record %s: %w", localID, errs.ErrNotFound)
	}

	apply(rec)
	rec.LocalID = localID // apply cannot re-key the record
	rec.SyncStatus = model.StatusPending
	if rec.Category == "" {
		rec.Category = "other"
	}

	stored, err := s.store.SaveRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureCategory(stored.Category); err != nil {
		slog.Warn("failed to register category", "category", stored.Category, "error", err)
	}

	if err := s.queue.Enqueue(model.QueueEntry{
		Operation: model.OpUpdate,
		Entity:    model.EntityRecord,
		LocalID:   localID,
		Record:    stored.Clone(),
	}); err != nil {
		return nil, err
	}

	s.drain(ctx)
	return stored, nil
}

// ToggleFavorite flips a record's favorite flag.
func (s *Service) ToggleFavorite(ctx context.Context, localID string) (*model.Record, error) {
	return s.UpdateRecord(ctx, localID, func(r *model.Record) {
		r.Favorite = !r.Favorite
	})
}

// RecordUsed bumps a record's usage counter.
func (s *Service) RecordUsed(ctx context.Context, localID string) (*model.Record, error) {
	return s.UpdateRecord(ctx, localID, func(r *model.Record) {
		r.UsageCount++
	})
}

// DeleteRecord removes a record locally and queues the remote delete.
// Any queued upload for the same record is dropped first so a delete
// never races its own pending create.
func (s *Service) DeleteRecord(ctx context.Context, localID string) error {
	rec, ok, err := s.store.DeleteRecord(localID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %s: %w", localID, errs.ErrNotFound)
	}

	if err := s.queue.Remove(model.EntityRecord, localID); err != nil {
		return err
	}
	if err := s.queue.Enqueue(model.QueueEntry{
		Operation: model.OpDelete,
		Entity:    model.EntityRecord,
		LocalID:   localID,
		Record:    rec.Clone(),
	}); err != nil {
		return err
	}

	s.drain(ctx)
	return nil
}

// ListRecords returns records matching the filter, newest first.
func (s *Service) ListRecords(f store.Filter) []*model.Record {
	return s.store.ListRecords(f)
}

// Record looks up one record by local id.
func (s *Service) Record(localID string) (*model.Record, bool) {
	return s.store.Record(localID)
}

// CreateFolder stores a new folder and queues its upload.
func (s *Service) CreateFolder(ctx context.Context, name string) (*model.Folder, error) {
	f := &model.Folder{
		LocalID: uuid.NewString(),
		Name:    name,
		Owner:   s.ids.CurrentOwner(),
	}

	stored, err := s.store.SaveFolder(f)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(model.QueueEntry{
		Operation: model.OpCreate,
		Entity:    model.EntityFolder,
		LocalID:   stored.LocalID,
		Folder:    stored.Clone(),
	}); err != nil {
		return nil, err
	}

	s.drain(ctx)
	return stored, nil
}

// DeleteFolder removes a folder. Records inside keep living at the top
// level; their cleared folder_ref is re-uploaded.
func (s *Service) DeleteFolder(ctx context.Context, localID string) error {
	folder, cleared, err := s.store.DeleteFolder(localID)
	if err != nil {
		return err
	}
	if folder == nil {
		return fmt.Errorf("folder %s: %w", localID, errs.ErrNotFound)
	}

	if err := s.queue.Remove(model.EntityFolder, localID); err != nil {
		return err
	}
	if err := s.queue.Enqueue(model.QueueEntry{
		Operation: model.OpDelete,
		Entity:    model.EntityFolder,
		LocalID:   localID,
		Folder:    folder.Clone(),
	}); err != nil {
		return err
	}
	for _, rec := range cleared {
		if err := s.queue.Enqueue(model.QueueEntry{
			Operation: model.OpUpdate,
			Entity:    model.EntityRecord,
			LocalID:   rec.LocalID,
			Record:    rec.Clone(),
		}); err != nil {
			return err
		}
	}

	s.drain(ctx)
	return nil
}

// Folders returns all folders.
func (s *Service) Folders() []*model.Folder {
	return s.store.Folders()
}

// Categories returns the category set.
func (s *Service) Categories() []string {
	return s.store.Categories()
}

// AddCategory adds a category and, when it is new, queues the set for
// upload.
func (s *Service) AddCategory(ctx context.Context, name string) (bool, error) {
	added, err := s.ensureCategory(name)
	if err != nil || !added {
		return added, err
	}
	s.drain(ctx)
	return true, nil
}

func (s *Service) ensureCategory(name string) (bool, error) {
	added, err := s.store.AddCategory(name)
	if err != nil || !added {
		return added, err
	}
	return true, s.queue.Enqueue(model.QueueEntry{
		Operation:  model.OpUpdate,
		Entity:     model.EntityCategories,
		Categories: s.store.Categories(),
	})
}

// RequestLogin asks the remote to issue a one-time login code for the
// email address.
func (s *Service) RequestLogin(ctx context.Context, email string) error {
	if s.auth == nil {
		return errs.ErrOffline
	}
	return s.auth.RequestLoginCode(ctx, email)
}

// VerifyLogin exchanges a one-time code for a session, then runs the
// device-to-user migration and a full reconcile so the account's data
// lands locally right away.
func (s *Service) VerifyLogin(ctx context.Context, email, code string) error {
	if s.auth == nil {
		return errs.ErrOffline
	}

	userID, err := s.auth.VerifyLoginCode(ctx, email, code)
	if err != nil {
		return err
	}
	if err := s.ids.Authenticate(userID, email); err != nil {
		return err
	}
	slog.Info("signed in", "email", email)

	if err := s.migrator.Run(ctx, userID); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	return s.SyncNow(ctx)
}

// SignOut clears the session. User-owned records stay local but stop
// syncing until the next sign-in; the device identity takes over for
// new records.
func (s *Service) SignOut() error {
	return s.ids.SignOut()
}

// SyncNow reconciles against the remote and drains the queue. A
// migration that was interrupted after sign-in (the session persisted,
// its remote sweep not) is resumed here first, so orphan rows from a
// wiped prior session are eventually claimed.
func (s *Service) SyncNow(ctx context.Context) error {
	if s.reconciler == nil {
		return errs.ErrOffline
	}
	if sess := s.ids.Session(); sess != nil && !s.migrator.Completed(sess.UserID) {
		if err := s.migrator.Run(ctx, sess.UserID); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	if err := s.reconciler.Reconcile(ctx); err != nil {
		return err
	}
	s.drain(ctx)
	return nil
}

// Reload re-reads the store's bucket files from disk, picking up edits
// made by another process.
func (s *Service) Reload() error {
	if err := s.store.Reload(); err != nil {
		return err
	}
	return s.queue.Reload()
}
