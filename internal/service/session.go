package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Session holds the interactive state of one grader: the per-role input
// choices and the persona. A session runs at most one grading at a time.
type Session struct {
	service  GradingService
	progress ProgressFunc

	mu      sync.Mutex
	slots   map[models.Role]SlotRequest
	persona PersonaChoice

	busy atomic.Bool
}

// NewSession starts a session with every role in image mode and the
// balanced persona selected.
func NewSession(service GradingService, progress ProgressFunc) *Session {
	slots := make(map[models.Role]SlotRequest, len(models.Roles))
	for _, role := range models.Roles {
		slots[role] = SlotRequest{Role: role, Mode: models.InputModeImage}
	}
	return &Session{
		service:  service,
		progress: progress,
		slots:    slots,
		persona:  PersonaChoice{Profile: PersonaBalanced},
	}
}

// SelectMode switches how role's input is supplied. Text and file already
// entered for the role are kept.
func (s *Session) SelectMode(role models.Role, mode models.InputMode) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if mode != models.InputModeImage && mode != models.InputModeText {
		return fmt.Errorf("unknown input mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[role]
	slot.Mode = mode
	s.slots[role] = slot
	return nil
}

// SetText stores the text input for role.
func (s *Session) SetText(role models.Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[role]
	slot.Text = text
	s.slots[role] = slot
	return nil
}

// AttachFile stores the file input for role.
func (s *Session) AttachFile(role models.Role, file FileSource) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[role]
	slot.File = file
	s.slots[role] = slot
	return nil
}

// SelectPersona chooses the grading persona. customText is only used by the
// custom profile.
func (s *Session) SelectPersona(profile, customText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = PersonaChoice{Profile: profile, CustomText: customText}
}

// Busy reports whether a grading run is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Submit grades the current inputs. It fails with ErrGradingInProgress while
// another Submit on the same session has not finished.
func (s *Session) Submit(ctx context.Context, credential string) (GradingOutcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return GradingOutcome{}, ErrGradingInProgress
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	cmd := GradingCommand{
		Credential: credential,
		Persona:    s.persona,
		Question:   s.slots[models.RoleQuestion],
		Model:      s.slots[models.RoleModel],
		Student:    s.slots[models.RoleStudent],
		Progress:   s.progress,
	}
	s.mu.Unlock()

	return s.service.Run(ctx, cmd)
}

// GradingGate allows at most one in-flight run per key.
type GradingGate struct {
	service  GradingService
	inFlight sync.Map
}

// NewGradingGate wraps service.
func NewGradingGate(service GradingService) *GradingGate {
	return &GradingGate{service: service}
}

// Run executes cmd unless a run for key is already in flight. An empty key
// is never gated.
func (g *GradingGate) Run(ctx context.Context, key string, cmd GradingCommand) (GradingOutcome, error) {
	if key != "" {
		if _, loaded := g.inFlight.LoadOrStore(key, struct{}{}); loaded {
			return GradingOutcome{}, ErrGradingInProgress
		}
		defer g.inFlight.Delete(key)
	}
	return g.service.Run(ctx, cmd)
}

// CredentialFingerprint returns a stable gate key for credential that does
// not retain the secret itself.
func CredentialFingerprint(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
