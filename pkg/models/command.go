package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommandPriority orders delivery in the command engine's worker pool
// (§4.7): CRITICAL > HIGH > NORMAL > LOW.
type CommandPriority int

const (
	PriorityLow      CommandPriority = 1
	PriorityNormal   CommandPriority = 5
	PriorityHigh     CommandPriority = 10
	PriorityCritical CommandPriority = 20
)

// CommandStatus is the lifecycle state of a Command (§3).
// PENDING -> QUEUED -> SENT -> {DELIVERED -> EXECUTED | FAILED}
// FAILED -> QUEUED while retry_count < max_retries and not expired.
// EXECUTED, EXPIRED, CANCELLED and FAILED are terminal; a failed command
// that can still retry is re-queued in the same step, so a stored FAILED
// status means its retries are exhausted.
type CommandStatus string

const (
	StatusPending   CommandStatus = "PENDING"
	StatusQueued    CommandStatus = "QUEUED"
	StatusSent      CommandStatus = "SENT"
	StatusDelivered CommandStatus = "DELIVERED"
	StatusExecuted  CommandStatus = "EXECUTED"
	StatusFailed    CommandStatus = "FAILED"
	StatusCancelled CommandStatus = "CANCELLED"
	StatusExpired   CommandStatus = "EXPIRED"
)

// IsTerminal reports whether status can never transition again (§8
// invariant 4).
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case StatusExpired, StatusCancelled, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// CommandType enumerates the supported outbound command kinds (§3).
type CommandType string

const (
	CommandReboot        CommandType = "REBOOT"
	CommandSetInterval   CommandType = "SETINTERVAL"
	CommandSetOverspeed  CommandType = "SETOVERSPEED"
	CommandSetGeofence   CommandType = "SETGEOFENCE"
	CommandSetOutput     CommandType = "SETOUTPUT"
	CommandEngineStart   CommandType = "ENGINE_START"
	CommandEngineStop    CommandType = "ENGINE_STOP"
)

// Command is an operator-submitted instruction for a device (§3, §4.7).
type Command struct {
	ID          string          `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	DeviceRef   string          `json:"device_ref" gorm:"type:uuid;not null;index"`
	UserRef     string          `json:"user_ref" gorm:"type:uuid;not null"`
	Type        CommandType     `json:"command_type" gorm:"size:40;not null"`
	Priority    CommandPriority `json:"priority" gorm:"not null;default:5"`
	Status      CommandStatus   `json:"status" gorm:"size:20;not null;default:'PENDING';index:idx_command_priority_queued,priority:2"`
	Parameters  map[string]interface{} `json:"parameters" gorm:"type:jsonb;serializer:json"`
	RawCommand  []byte          `json:"-" gorm:"type:bytea"`
	TextChannel bool            `json:"text_channel" gorm:"not null;default:false"`

	QueuedAt    *time.Time `json:"queued_at,omitempty" gorm:"index:idx_command_priority_queued,priority:1"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	RetryCount int       `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries int       `json:"max_retries" gorm:"not null;default:3"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Response string `json:"response,omitempty" gorm:"type:text"`
	Error    string `json:"error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (c *Command) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.Priority == 0 {
		c.Priority = PriorityNormal
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return nil
}

// Expired reports whether the command's deadline has passed.
func (c *Command) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// CanRetry reports whether a FAILED command is eligible to re-queue.
func (c *Command) CanRetry(now time.Time) bool {
	return c.RetryCount < c.MaxRetries && !c.Expired(now)
}

// ScheduledCommand wraps a Command for deferred / repeating execution
// (§4.7).
type ScheduledCommand struct {
	ID             string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CommandRef     string     `json:"command_ref" gorm:"type:uuid;not null;index"`
	ScheduledAt    time.Time  `json:"scheduled_at" gorm:"not null;index"`
	RepeatInterval *time.Duration `json:"repeat_interval,omitempty" gorm:"-"`
	RepeatEvery    int64      `json:"repeat_interval_ns,omitempty"` // persisted form of RepeatInterval
	MaxRepeats     *int       `json:"max_repeats,omitempty"`
	RepeatCount    int        `json:"repeat_count" gorm:"not null;default:0"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (s *ScheduledCommand) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// Due reports whether the schedule should fire now.
func (s *ScheduledCommand) Due(now time.Time) bool {
	return !s.ScheduledAt.After(now)
}

// Rearm advances the schedule by RepeatInterval if repeats remain,
// reporting whether it re-armed.
func (s *ScheduledCommand) Rearm(now time.Time) bool {
	if s.RepeatEvery <= 0 {
		return false
	}
	if s.MaxRepeats != nil && s.RepeatCount >= *s.MaxRepeats {
		return false
	}
	s.ScheduledAt = now.Add(time.Duration(s.RepeatEvery))
	s.RepeatCount++
	return true
}

// CommandTemplate is a reusable parameter blueprint (§4.7).
type CommandTemplate struct {
	ID         string                 `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name       string                 `json:"name" gorm:"size:200;not null"`
	Type       CommandType            `json:"command_type" gorm:"size:40;not null"`
	Defaults   map[string]interface{} `json:"defaults" gorm:"type:jsonb;serializer:json"`
	UsageCount int                    `json:"usage_count" gorm:"not null;default:0"`
	CreatedAt  time.Time              `json:"created_at" gorm:"autoCreateTime"`
}

func (t *CommandTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// Instantiate produces a fresh Command from the template's defaults,
// merged with caller-supplied overrides, and bumps the usage counter.
func (t *CommandTemplate) Instantiate(deviceRef, userRef string, overrides map[string]interface{}) *Command {
	params := make(map[string]interface{}, len(t.Defaults)+len(overrides))
	for k, v := range t.Defaults {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	t.UsageCount++
	return &Command{
		DeviceRef:  deviceRef,
		UserRef:    userRef,
		Type:       t.Type,
		Parameters: params,
	}
}
