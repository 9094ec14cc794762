package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine.
const (
	AuditLogin                  = "auth.login"
	AuditLoginFailed            = "auth.login_failed"
	AuditAccountLocked          = "auth.account_locked"
	AuditTwoFactorChallenge     = "auth.2fa_challenge"
	AuditTwoFactorSuccess       = "auth.2fa_success"
	AuditTwoFactorFailed        = "auth.2fa_failed"
	AuditTwoFactorEnabled       = "auth.2fa_enabled"
	AuditTwoFactorDisabled      = "auth.2fa_disabled"
	AuditBackupCodeUsed         = "auth.backup_code_used"
	AuditBackupCodesRegenerated = "auth.backup_codes_regenerated"
	AuditTrustedDeviceAdded     = "auth.trusted_device_added"
	AuditTrustedDeviceRemoved   = "auth.trusted_device_removed"
	AuditTokenRefresh           = "auth.token_refresh"
	AuditRefreshReuse           = "auth.refresh_reuse"
	AuditLogout                 = "auth.logout"
	AuditLogoutAll              = "auth.logout_all"
	AuditRegister               = "auth.register"
	AuditEmailVerified          = "auth.email_verified"
	AuditPasswordChanged        = "auth.password_changed"
	AuditPasswordResetRequested = "auth.password_reset_requested"
	AuditPasswordReset          = "auth.password_reset"
	AuditRateLimited            = "auth.rate_limited"
	AuditCSRFRejected           = "auth.csrf_rejected"
)

// AuditEvent is one security-relevant occurrence. Events never contain
// passwords, codes, or tokens; Metadata carries only identifiers.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the async dispatcher. Emit must not panic;
// a slow sink only delays (or drops, per config) audit delivery, never an
// authentication decision.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a channel, for tests and custom pipelines.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
