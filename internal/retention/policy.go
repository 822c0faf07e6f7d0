package retention

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMessageRetentionDays is the single documented default for how
	// long a message stays in the live store before it is archived.
	DefaultMessageRetentionDays = 90
	// DefaultNotificationTTLDays is how long a notification lives before it
	// is purged.
	DefaultNotificationTTLDays = 45

	day = 24 * time.Hour
)

// ErrInvalidPolicy is wrapped by every policy validation failure.
var ErrInvalidPolicy = errors.New("retention: invalid policy")

// Policy holds the retention windows applied by one archival run.
type Policy struct {
	MessageRetentionDays int
	NotificationTTLDays  int
}

// DefaultPolicy returns the built-in defaults.
func DefaultPolicy() Policy {
	return Policy{
		MessageRetentionDays: DefaultMessageRetentionDays,
		NotificationTTLDays:  DefaultNotificationTTLDays,
	}
}

// Validate rejects non-positive windows.
func (p Policy) Validate() error {
	if p.MessageRetentionDays <= 0 {
		return fmt.Errorf("%w: message retention days must be positive, got %d", ErrInvalidPolicy, p.MessageRetentionDays)
	}
	if p.NotificationTTLDays <= 0 {
		return fmt.Errorf("%w: notification ttl days must be positive, got %d", ErrInvalidPolicy, p.NotificationTTLDays)
	}
	return nil
}

// Cutoffs returns the message and notification cutoffs relative to now.
func (p Policy) Cutoffs(now time.Time) (messageCutoff, notificationCutoff time.Time) {
	return ComputeCutoff(now, p.MessageRetentionDays), ComputeCutoff(now, p.NotificationTTLDays)
}

// ComputeCutoff returns now minus retentionDays whole days. Records created
// strictly before the cutoff are eligible.
func ComputeCutoff(now time.Time, retentionDays int) time.Time {
	return now.Add(-time.Duration(retentionDays) * day)
}

// Source yields the policy in force for a run.
type Source interface {
	Load(ctx context.Context) (Policy, error)
}

// StaticSource always returns the same policy.
type StaticSource struct {
	Policy Policy
}

func (s StaticSource) Load(_ context.Context) (Policy, error) {
	if err := s.Policy.Validate(); err != nil {
		return Policy{}, err
	}
	return s.Policy, nil
}

// ParamGetter fetches a batch of parameters by name. Names missing from the
// store are absent from the returned map.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// ParamSource reads the policy from the parameter store on every Load so that
// operators can change retention without a redeploy. Parameters that are not
// set fall back to the defaults.
type ParamSource struct {
	params   ParamGetter
	prefix   string
	defaults Policy
}

// NewParamSource creates a ParamSource reading under prefix.
func NewParamSource(params ParamGetter, prefix string, defaults Policy) (*ParamSource, error) {
	if params == nil {
		return nil, errors.New("retention: param getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("retention: parameter prefix must not be empty")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &ParamSource{params: params, prefix: prefix, defaults: defaults}, nil
}

func (s *ParamSource) messageDaysName() string { return s.prefix + "/retention/message_days" }

func (s *ParamSource) notificationDaysName() string {
	return s.prefix + "/retention/notification_ttl_days"
}

func (s *ParamSource) Load(ctx context.Context) (Policy, error) {
	msgName, notifName := s.messageDaysName(), s.notificationDaysName()
	vals, err := s.params.GetParameters(ctx, msgName, notifName)
	if err != nil {
		return Policy{}, fmt.Errorf("retention: load parameters: %w", err)
	}

	p := s.defaults
	if raw, ok := vals[msgName]; ok {
		if p.MessageRetentionDays, err = parseDays(msgName, raw); err != nil {
			return Policy{}, err
		}
	}
	if raw, ok := vals[notifName]; ok {
		if p.NotificationTTLDays, err = parseDays(notifName, raw); err != nil {
			return Policy{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func parseDays(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q is not an integer: %q", ErrInvalidPolicy, name, raw)
	}
	return n, nil
}
