// Package app owns the lead collection and the actions a user can take on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinal/internal/dashboard"
	"sentinal/internal/followup"
	"sentinal/internal/lifecycle"
	"sentinal/internal/model"
	"sentinal/internal/reconcile"
	"sentinal/internal/store"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotFound       = errors.New("lead not found")
)

// Store persists the collection and settings.
type Store interface {
	LoadEntities(ctx context.Context) ([]model.TrackedEntity, error)
	SaveEntities(ctx context.Context, entities []model.TrackedEntity) error
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
	DeletedThreads(ctx context.Context) ([]string, error)
	AddDeletedThread(ctx context.Context, threadID string) error
	Reset(ctx context.Context) error
}

// MailGateway is the full mail surface: the reconciliation reads plus sending.
type MailGateway interface {
	reconcile.MailGateway
	Send(ctx context.Context, m model.OutgoingMessage) error
}

// Credentials produces a connected gateway from whatever credential is held.
type Credentials interface {
	// Connect fails with model.ErrCredentialMissing when nothing is held.
	Connect(ctx context.Context) (MailGateway, error)
	Authorize(ctx context.Context, prompts chan<- string, pasted <-chan string) error
	Forget(ctx context.Context) error
}

// AIBuilder returns the classifier and drafter for the given stored Gemini key.
// An empty key means the environment decides.
type AIBuilder func(ctx context.Context, geminiKey string) (reconcile.Classifier, followup.Drafter)

type Options struct {
	Store       Store
	Credentials Credentials
	BuildAI     AIBuilder
	Engine      reconcile.Options

	SyncInterval time.Duration
	SyncTimeout  time.Duration
	BackoffMax   time.Duration

	Now func() time.Time
}

type EventKind int

const (
	EventChanged EventKind = iota
	EventSynced
	EventSyncFailed
	EventCredentialLost
	EventAuthorized
)

// Event reports a state change to the UI.
type Event struct {
	Kind   EventKind
	Result reconcile.Result
	Err    error
}

// Settings are the user-editable values. SyncInterval is not persisted.
type Settings struct {
	ClientID     string
	GeminiAPIKey string
	SyncInterval time.Duration
}

// App is the single owner of the lead collection. Mutations are serialized by
// opMu and committed by replacing the whole collection.
type App struct {
	store       Store
	credentials Credentials
	buildAI     AIBuilder
	engineOpts  reconcile.Options
	now         func() time.Time
	scheduler   *Scheduler

	opMu    sync.Mutex
	syncing atomic.Bool

	mu         sync.RWMutex
	entities   []model.TrackedEntity
	deleted    []string // threads of deleted leads, never rediscovered
	mail       MailGateway
	classifier reconcile.Classifier
	drafter    followup.Drafter
	lastSync   time.Time
	notify     func(Event)
}

func New(opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Engine.Now == nil {
		opts.Engine.Now = opts.Now
	}
	a := &App{
		store:       opts.Store,
		credentials: opts.Credentials,
		buildAI:     opts.BuildAI,
		engineOpts:  opts.Engine,
		now:         opts.Now,
		entities:    []model.TrackedEntity{},
	}
	a.scheduler = NewScheduler(func(ctx context.Context) error {
		_, err := a.Sync(ctx)
		return err
	}, opts.SyncInterval, opts.SyncTimeout, opts.BackoffMax)
	return a
}

// SetNotifier registers the event sink. It is called synchronously and must
// not call mutating App methods.
func (a *App) SetNotifier(fn func(Event)) {
	a.mu.Lock()
	a.notify = fn
	a.mu.Unlock()
}

func (a *App) emit(ev Event) {
	a.mu.RLock()
	fn := a.notify
	a.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// Load reads the persisted collection and builds the AI gateways.
func (a *App) Load(ctx context.Context) error {
	entities, err := a.store.LoadEntities(ctx)
	if err != nil {
		return fmt.Errorf("load leads: %w", err)
	}
	deleted, err := a.store.DeletedThreads(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.entities = entities
	a.deleted = deleted
	a.mu.Unlock()
	return a.rebuildAI(ctx)
}

// Open loads state and connects the mail gateway if a credential is held, then
// starts auto-sync. Without a credential an offline pass runs so overdue leads
// still escalate.
func (a *App) Open(ctx context.Context) error {
	if err := a.Load(ctx); err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		log.Printf("[App] running offline: %v", err)
		if _, err := a.Sync(ctx); err != nil {
			return err
		}
		return nil
	}
	a.scheduler.Start()
	return nil
}

// Close stops auto-sync and waits for an in-flight cycle.
func (a *App) Close() {
	a.scheduler.Close()
}

// Connect builds the mail gateway from the held credential. It does not start
// auto-sync.
func (a *App) Connect(ctx context.Context) error {
	mail, err := a.credentials.Connect(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.mail = mail
	a.mu.Unlock()
	return nil
}

func (a *App) rebuildAI(ctx context.Context) error {
	key, err := a.store.GetValue(ctx, store.KeyGeminiAPIKey)
	if err != nil {
		return fmt.Errorf("read gemini key: %w", err)
	}
	classifier, drafter := a.buildAI(ctx, key)
	a.mu.Lock()
	a.classifier, a.drafter = classifier, drafter
	a.mu.Unlock()
	return nil
}

// Entities returns a copy of the collection.
func (a *App) Entities() []model.TrackedEntity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.TrackedEntity, len(a.entities))
	copy(out, a.entities)
	return out
}

func (a *App) Entity(id string) (model.TrackedEntity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := indexOf(a.entities, id); i >= 0 {
		return a.entities[i].Clone(), true
	}
	return model.TrackedEntity{}, false
}

func (a *App) Stats() model.DashboardStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return dashboard.Compute(a.entities)
}

func (a *App) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mail != nil
}

func (a *App) LastSync() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSync
}

func (a *App) Syncing() bool { return a.syncing.Load() }

func (a *App) AutoSync() bool { return a.scheduler.Running() }

// commit persists next and then makes it the current collection.
func (a *App) commit(ctx context.Context, next []model.TrackedEntity) error {
	if err := a.store.SaveEntities(ctx, next); err != nil {
		return fmt.Errorf("save leads: %w", err)
	}
	a.mu.Lock()
	a.entities = next
	a.mu.Unlock()
	return nil
}

// dropCredential forgets the token and goes offline.
func (a *App) dropCredential(ctx context.Context) {
	if err := a.credentials.Forget(context.WithoutCancel(ctx)); err != nil {
		log.Printf("[App] failed to forget credential: %v", err)
	}
	a.goOffline()
}

func (a *App) goOffline() {
	a.mu.Lock()
	a.mail = nil
	a.mu.Unlock()
	a.scheduler.Stop()
}

// Sync runs one reconciliation pass. A second call while one is running
// returns ErrSyncInProgress at once.
func (a *App) Sync(ctx context.Context) (reconcile.Result, error) {
	if !a.syncing.CompareAndSwap(false, true) {
		return reconcile.Result{}, ErrSyncInProgress
	}
	defer a.syncing.Store(false)

	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.RLock()
	current, mail, classifier := a.entities, a.mail, a.classifier
	opts := a.engineOpts
	opts.Ignored = a.deleted
	a.mu.RUnlock()

	var gw reconcile.MailGateway
	if mail != nil {
		gw = mail
	}
	res, err := reconcile.NewEngine(classifier, opts).Reconcile(ctx, current, gw)
	if err != nil {
		// A pass cut short by Stop or Reschedule is not a failure.
		if errors.Is(err, context.Canceled) {
			log.Printf("[Sync] pass cancelled")
			return reconcile.Result{}, err
		}
		log.Printf("[Sync] pass failed: %v", err)
		if errors.Is(err, model.ErrCredentialExpired) {
			a.dropCredential(ctx)
			a.emit(Event{Kind: EventCredentialLost, Err: err})
		} else {
			a.emit(Event{Kind: EventSyncFailed, Err: err})
		}
		return reconcile.Result{}, err
	}
	if err := a.commit(ctx, res.Entities); err != nil {
		a.emit(Event{Kind: EventSyncFailed, Err: err})
		return reconcile.Result{}, err
	}
	a.mu.Lock()
	a.lastSync = a.now()
	a.mu.Unlock()
	log.Printf("[Sync] discovered=%d replies=%d escalated=%d offline=%v",
		res.Discovered, res.Replies, res.Escalated, res.Offline)
	a.emit(Event{Kind: EventSynced, Result: res})
	return res, nil
}

// Authorize runs the consent flow, connects and starts auto-sync.
func (a *App) Authorize(ctx context.Context, prompts chan<- string, pasted <-chan string) error {
	if err := a.credentials.Authorize(ctx, prompts, pasted); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.scheduler.Start()
	a.emit(Event{Kind: EventAuthorized})
	return nil
}

// Deauthorize forgets the credential and stops auto-sync.
func (a *App) Deauthorize(ctx context.Context) error {
	if err := a.credentials.Forget(ctx); err != nil {
		return fmt.Errorf("forget credential: %w", err)
	}
	a.goOffline()
	a.emit(Event{Kind: EventCredentialLost})
	return nil
}

// AddManual validates the entry and puts the new lead at the front.
func (a *App) AddManual(ctx context.Context, entry model.ManualEntry) (model.TrackedEntity, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	e, err := lifecycle.NewManual(entry, a.now())
	if err != nil {
		return model.TrackedEntity{}, err
	}
	current := a.Entities()
	next := make([]model.TrackedEntity, 0, len(current)+1)
	next = append(next, e)
	next = append(next, current...)
	if err := a.commit(ctx, next); err != nil {
		return model.TrackedEntity{}, err
	}
	a.emit(Event{Kind: EventChanged})
	return e, nil
}

// update applies fn to one lead and commits the result.
func (a *App) update(ctx context.Context, id string, fn func(model.TrackedEntity) (model.TrackedEntity, error)) (model.TrackedEntity, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	current := a.Entities()
	i := indexOf(current, id)
	if i < 0 {
		return model.TrackedEntity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated, err := fn(current[i])
	if err != nil {
		return model.TrackedEntity{}, err
	}
	current[i] = updated
	if err := a.commit(ctx, current); err != nil {
		return model.TrackedEntity{}, err
	}
	a.emit(Event{Kind: EventChanged})
	return updated, nil
}

// LogReply records a reply the user pasted in. Classification failures yield
// the default sentiment and summary.
func (a *App) LogReply(ctx context.Context, id, content string) (model.TrackedEntity, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.TrackedEntity{}, &model.ValidationError{Field: "reply", Reason: "is required"}
	}
	return a.update(ctx, id, func(e model.TrackedEntity) (model.TrackedEntity, error) {
		if !lifecycle.CanTransition(e.Status, model.StatusReplied) {
			return e, fmt.Errorf("%w: %s -> %s", lifecycle.ErrInvalidTransition, e.Status, model.StatusReplied)
		}
		a.mu.RLock()
		classifier := a.classifier
		a.mu.RUnlock()
		return lifecycle.RecordReply(e, content, classifier.Classify(ctx, content), a.now())
	})
}

// NewDraft opens a draft session for a lead that needs a follow-up.
func (a *App) NewDraft(id string) (*followup.Session, error) {
	e, ok := a.Entity(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a.mu.RLock()
	drafter := a.drafter
	a.mu.RUnlock()
	return followup.NewSession(drafter, e)
}

// SendFollowUp delivers text to the lead, in its thread when it has one, and
// records the follow-up.
func (a *App) SendFollowUp(ctx context.Context, id, text string) (model.TrackedEntity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TrackedEntity{}, &model.ValidationError{Field: "follow-up", Reason: "is required"}
	}
	a.mu.RLock()
	mail := a.mail
	a.mu.RUnlock()
	if mail == nil {
		return model.TrackedEntity{}, model.ErrCredentialMissing
	}
	return a.update(ctx, id, func(e model.TrackedEntity) (model.TrackedEntity, error) {
		if e.Status != model.StatusNeedsFollowUp {
			return e, fmt.Errorf("%w: %s lead cannot be followed up", lifecycle.ErrInvalidTransition, e.Status)
		}
		err := mail.Send(ctx, model.OutgoingMessage{
			To:       e.RecipientEmail,
			Subject:  followup.ReplySubject(e.Subject),
			Body:     text,
			ThreadID: e.ThreadID,
		})
		if err != nil {
			if errors.Is(err, model.ErrCredentialExpired) {
				a.dropCredential(ctx)
				a.emit(Event{Kind: EventCredentialLost, Err: err})
			}
			return e, fmt.Errorf("send follow-up: %w", err)
		}
		return lifecycle.RecordFollowUp(e, text, a.now())
	})
}

// RecordFollowUp records a follow-up the user sent outside the app.
func (a *App) RecordFollowUp(ctx context.Context, id, text string) (model.TrackedEntity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.TrackedEntity{}, &model.ValidationError{Field: "follow-up", Reason: "is required"}
	}
	return a.update(ctx, id, func(e model.TrackedEntity) (model.TrackedEntity, error) {
		return lifecycle.RecordFollowUp(e, text, a.now())
	})
}

// ForceElapsed makes a waiting lead overdue right away.
func (a *App) ForceElapsed(ctx context.Context, id string) (model.TrackedEntity, error) {
	return a.update(ctx, id, func(e model.TrackedEntity) (model.TrackedEntity, error) {
		return lifecycle.ForceElapsed(e, a.now())
	})
}

// Delete removes a lead outright. A discovered lead's thread is remembered so
// later syncs do not track it again.
func (a *App) Delete(ctx context.Context, id string) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	current := a.Entities()
	i := indexOf(current, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if thread := current[i].ThreadID; thread != "" {
		if err := a.store.AddDeletedThread(ctx, thread); err != nil {
			return err
		}
		a.mu.Lock()
		a.deleted = append(a.deleted, thread)
		a.mu.Unlock()
	}
	next := append(current[:i:i], current[i+1:]...)
	if err := a.commit(ctx, next); err != nil {
		return err
	}
	a.emit(Event{Kind: EventChanged})
	return nil
}

// Reset clears every persisted value, the collection and the credential.
func (a *App) Reset(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if err := a.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	a.mu.Lock()
	a.entities = []model.TrackedEntity{}
	a.deleted = nil
	a.lastSync = time.Time{}
	a.mu.Unlock()
	a.goOffline()
	if err := a.rebuildAI(ctx); err != nil {
		return err
	}
	a.emit(Event{Kind: EventCredentialLost})
	return nil
}

func (a *App) Settings(ctx context.Context) (Settings, error) {
	id, err := a.store.GetValue(ctx, store.KeyClientID)
	if err != nil {
		return Settings{}, err
	}
	key, err := a.store.GetValue(ctx, store.KeyGeminiAPIKey)
	if err != nil {
		return Settings{}, err
	}
	return Settings{ClientID: id, GeminiAPIKey: key, SyncInterval: a.scheduler.Interval()}, nil
}

// UpdateSettings persists s. A new client id invalidates the held token; a new
// key rebuilds the AI gateways; a new interval reschedules auto-sync.
func (a *App) UpdateSettings(ctx context.Context, s Settings) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	s.ClientID = strings.TrimSpace(s.ClientID)
	s.GeminiAPIKey = strings.TrimSpace(s.GeminiAPIKey)

	oldID, err := a.store.GetValue(ctx, store.KeyClientID)
	if err != nil {
		return err
	}
	if err := a.putValue(ctx, store.KeyClientID, s.ClientID); err != nil {
		return err
	}
	if err := a.putValue(ctx, store.KeyGeminiAPIKey, s.GeminiAPIKey); err != nil {
		return err
	}
	if err := a.rebuildAI(ctx); err != nil {
		return err
	}
	if s.SyncInterval > 0 {
		a.scheduler.Reschedule(s.SyncInterval)
	}
	if oldID != s.ClientID {
		log.Printf("[App] client id changed, dropping credential")
		a.dropCredential(ctx)
		a.emit(Event{Kind: EventCredentialLost})
		return nil
	}
	a.emit(Event{Kind: EventChanged})
	return nil
}

func (a *App) putValue(ctx context.Context, key, value string) error {
	if value == "" {
		return a.store.DeleteValue(ctx, key)
	}
	return a.store.SetValue(ctx, key, value)
}

// Import appends leads from an exported collection. The whole batch is
// rejected if any lead is invalid; leads whose id or thread is already tracked
// are skipped. It returns the number added.
func (a *App) Import(ctx context.Context, incoming []model.TrackedEntity) (int, error) {
	if err := model.ValidateCollection(incoming); err != nil {
		return 0, err
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()

	current := a.Entities()
	ids := make(map[string]bool, len(current))
	threads := make(map[string]bool, len(current))
	for _, e := range current {
		ids[e.ID] = true
		if e.ThreadID != "" {
			threads[e.ThreadID] = true
		}
	}
	added := 0
	for _, e := range incoming {
		if ids[e.ID] || (e.ThreadID != "" && threads[e.ThreadID]) {
			continue
		}
		current = append(current, e.Clone())
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := a.commit(ctx, current); err != nil {
		return 0, err
	}
	a.emit(Event{Kind: EventChanged})
	return added, nil
}

func indexOf(entities []model.TrackedEntity, id string) int {
	for i := range entities {
		if entities[i].ID == id {
			return i
		}
	}
	return -1
}
