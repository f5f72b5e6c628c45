package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSlotNotFound    = errors.New("upload slot not found")
	ErrSubjectExists   = errors.New("session already has a subject image")
	ErrTooManyGarments = errors.New("session has the maximum number of garment images")
	ErrMissingSubject  = errors.New("session has no subject image")
	ErrMissingGarment  = errors.New("session has no garment image")
)

// SessionPolicy holds the per-session upload limits.
type SessionPolicy struct {
	SingleSubject bool
	MaxGarments   int
	Request       models.NormalizationRequest
}

type slotEntry struct {
	slot models.UploadSlot
	done chan struct{}
	once sync.Once
}

// settle releases anyone waiting on the slot. Safe to call more than once.
func (e *slotEntry) settle() {
	e.once.Do(func() { close(e.done) })
}

type session struct {
	id        string
	createdAt time.Time

	mu    sync.Mutex
	slots []*slotEntry
}

func (s *session) find(slotID string) (int, *slotEntry) {
	for i, e := range s.slots {
		if e.slot.ID == slotID {
			return i, e
		}
	}
	return -1, nil
}

func (s *session) count(role models.Role) int {
	n := 0
	for _, e := range s.slots {
		if e.slot.Role == role {
			n++
		}
	}
	return n
}

func (s *session) clear() {
	for _, e := range s.slots {
		e.settle()
	}
	s.slots = nil
}

// SessionStore tracks upload sessions and hands their images to the
// normalization pool.
type SessionStore struct {
	sessions *TTLCache[*session]
	pool     *NormalizePool
	policy   SessionPolicy

	stopJanitor chan struct{}
	janitorDone chan struct{}
	stopOnce    sync.Once
}

// NewSessionStore creates a store whose sessions expire ttl after last use.
func NewSessionStore(pool *NormalizePool, ttl time.Duration, policy SessionPolicy) *SessionStore {
	if policy.MaxGarments <= 0 {
		policy.MaxGarments = 5
	}
	policy.Request = policy.Request.WithDefaults()
	return &SessionStore{
		sessions: NewTTLCache[*session](ttl),
		pool:     pool,
		policy:   policy,
	}
}

// Create opens an empty session.
func (s *SessionStore) Create() models.SessionView {
	sess := &session{id: uuid.NewString(), createdAt: time.Now().UTC()}
	expires := s.sessions.Set(sess.id, sess)
	logger.Debug().Str("session", sess.id).Msg("session: created")
	return models.SessionView{ID: sess.id, Slots: []models.UploadSlot{}, CreatedAt: sess.createdAt, ExpiresAt: expires}
}

func (s *SessionStore) get(id string) (*session, time.Time, error) {
	sess, _, ok := s.sessions.Get(id)
	if !ok {
		return nil, time.Time{}, ErrSessionNotFound
	}
	expires, _ := s.sessions.Touch(id)
	return sess, expires, nil
}

// Snapshot returns the current state of a session.
func (s *SessionStore) Snapshot(id string) (models.SessionView, error) {
	sess, expires, err := s.get(id)
	if err != nil {
		return models.SessionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	view := models.SessionView{ID: sess.id, Slots: make([]models.UploadSlot, 0, len(sess.slots)), CreatedAt: sess.createdAt, ExpiresAt: expires}
	for _, e := range sess.slots {
		view.Slots = append(view.Slots, e.slot)
	}
	return view, nil
}

// AddSlot validates asset at intake, applies the session policy and queues the
// image for normalization. The returned slot is in the queued state.
func (s *SessionStore) AddSlot(ctx context.Context, sessionID string, role models.Role, asset models.ImageAsset) (models.UploadSlot, error) {
	if err := ctx.Err(); err != nil {
		return models.UploadSlot{}, err
	}
	meta, err := normalize.Inspect(asset)
	if err != nil {
		return models.UploadSlot{}, err
	}
	if asset.MIMEType == "" || asset.MIMEType == "application/octet-stream" {
		asset.MIMEType = normalize.DetectMIME(asset.Data)
	}

	sess, _, err := s.get(sessionID)
	if err != nil {
		return models.UploadSlot{}, err
	}

	sess.mu.Lock()
	switch role {
	case models.RoleSubject:
		if s.policy.SingleSubject && sess.count(models.RoleSubject) > 0 {
			sess.mu.Unlock()
			return models.UploadSlot{}, ErrSubjectExists
		}
	case models.RoleGarment:
		if sess.count(models.RoleGarment) >= s.policy.MaxGarments {
			sess.mu.Unlock()
			return models.UploadSlot{}, fmt.Errorf("%w (%d)", ErrTooManyGarments, s.policy.MaxGarments)
		}
	default:
		sess.mu.Unlock()
		return models.UploadSlot{}, fmt.Errorf("unknown role %q", role)
	}

	original := asset
	entry := &slotEntry{
		slot: models.UploadSlot{
			ID:       uuid.NewString(),
			Role:     role,
			State:    models.SlotQueued,
			Asset:    &original,
			Metadata: &meta,
		},
		done: make(chan struct{}),
	}
	sess.slots = append(sess.slots, entry)
	slot := entry.slot
	sess.mu.Unlock()

	err = s.pool.Submit(NormalizeJob{
		Key:     sess.id + "/" + slot.ID,
		Asset:   asset,
		Request: s.policy.Request,
		Start:   func() bool { return s.markNormalizing(sess, entry) },
		Done:    func(res models.NormalizationResult) { s.complete(sess, entry, res) },
	})
	if err != nil {
		sess.mu.Lock()
		if i, e := sess.find(slot.ID); i >= 0 {
			sess.slots = append(sess.slots[:i], sess.slots[i+1:]...)
			e.settle()
		}
		sess.mu.Unlock()
		return models.UploadSlot{}, err
	}

	logger.Debug().
		Str("session", sess.id).
		Str("slot", slot.ID).
		Str("role", string(role)).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Msg("session: slot queued")
	return slot, nil
}

func (s *SessionStore) markNormalizing(sess *session, entry *slotEntry) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, e := sess.find(entry.slot.ID); e == nil {
		return false
	}
	entry.slot.State = models.SlotNormalizing
	return true
}

// complete records a normalization result. Results for removed slots are
// discarded.
func (s *SessionStore) complete(sess *session, entry *slotEntry, res models.NormalizationResult) {
	preview, err := GeneratePreview(res.Asset.Data)
	if err != nil {
		logger.Debug().Str("session", sess.id).Str("slot", entry.slot.ID).Err(err).Msg("session: no preview for slot")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	defer entry.settle()

	if _, e := sess.find(entry.slot.ID); e == nil {
		return
	}
	entry.slot.Backend = res.BackendUsed
	entry.slot.Preview = preview
	if res.BackendUsed == models.BackendPassthrough {
		// the original asset stays attached and remains usable
		entry.slot.State = models.SlotFailed
	} else {
		asset := res.Asset
		meta := res.Metadata
		entry.slot.Asset = &asset
		entry.slot.Metadata = &meta
		entry.slot.State = models.SlotReady
	}
	logger.Debug().
		Str("session", sess.id).
		Str("slot", entry.slot.ID).
		Str("state", string(entry.slot.State)).
		Str("backend", string(res.BackendUsed)).
		Msg("session: slot settled")
}

// RemoveSlot drops a slot. A normalization still in flight for it is discarded.
func (s *SessionStore) RemoveSlot(sessionID, slotID string) error {
	sess, _, err := s.get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	i, e := sess.find(slotID)
	if i < 0 {
		return ErrSlotNotFound
	}
	sess.slots = append(sess.slots[:i], sess.slots[i+1:]...)
	e.settle()
	return nil
}

// DeleteSession ends a session and discards its slots.
func (s *SessionStore) DeleteSession(id string) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.clear()
	sess.mu.Unlock()
	logger.Debug().Str("session", id).Msg("session: deleted")
	return nil
}

// BuildPrediction waits for every slot of the session to settle and assembles
// the prediction request from the subject and garment images. Failed slots
// contribute their original asset.
func (s *SessionStore) BuildPrediction(ctx context.Context, sessionID string, params map[string]any) (models.PredictionRequest, error) {
	sess, _, err := s.get(sessionID)
	if err != nil {
		return models.PredictionRequest{}, err
	}

	sess.mu.Lock()
	if err := checkRoles(sess); err != nil {
		sess.mu.Unlock()
		return models.PredictionRequest{}, err
	}
	waiting := make([]chan struct{}, 0, len(sess.slots))
	for _, e := range sess.slots {
		waiting = append(waiting, e.done)
	}
	sess.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, done := range waiting {
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return models.PredictionRequest{}, fmt.Errorf("waiting for normalization: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	// slots may have been removed while waiting
	if err := checkRoles(sess); err != nil {
		return models.PredictionRequest{}, err
	}

	var instance models.PredictionInstance
	instance.ProductImages = make([]models.ImageInput, 0, sess.count(models.RoleGarment))
	subjectSet := false
	for _, e := range sess.slots {
		if e.slot.Asset == nil {
			continue
		}
		input := models.ImageInput{Image: models.EncodedImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(e.slot.Asset.Data),
		}}
		switch e.slot.Role {
		case models.RoleSubject:
			// with single-subject off, the most recent subject wins
			instance.PersonImage = input
			subjectSet = true
		case models.RoleGarment:
			instance.ProductImages = append(instance.ProductImages, input)
		}
	}
	if !subjectSet {
		return models.PredictionRequest{}, ErrMissingSubject
	}

	return models.PredictionRequest{
		Instances:  []models.PredictionInstance{instance},
		Parameters: params,
	}, nil
}

func checkRoles(sess *session) error {
	if sess.count(models.RoleSubject) == 0 {
		return ErrMissingSubject
	}
	if sess.count(models.RoleGarment) == 0 {
		return ErrMissingGarment
	}
	return nil
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *SessionStore) Sweep() int {
	removed := s.sessions.Sweep()
	for _, sess := range removed {
		sess.mu.Lock()
		sess.clear()
		sess.mu.Unlock()
	}
	if len(removed) > 0 {
		logger.Info().Int("count", len(removed)).Msg("session: expired sessions removed")
	}
	return len(removed)
}

// StartJanitor sweeps expired sessions every interval until ctx is done or
// Stop is called.
func (s *SessionStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.stopJanitor = make(chan struct{})
	s.janitorDone = make(chan struct{})
	go func() {
		defer close(s.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopJanitor:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the janitor started by StartJanitor.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() {
		if s.stopJanitor == nil {
			return
		}
		close(s.stopJanitor)
		<-s.janitorDone
	})
}
