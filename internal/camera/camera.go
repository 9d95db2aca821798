package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds individual device calls when the caller
	// does not supply a deadline of its own.
	DefaultTimeout = 5 * time.Second
)

var (
	ErrAuthFailed      = errors.New("device rejected credentials")
	ErrNotConnected    = errors.New("not logged in")
	ErrSubscribeFailed = errors.New("event subscription rejected")
	ErrUnknownVendor   = errors.New("unknown camera vendor")
)

// Target identifies one device endpoint.
type Target struct {
	ID      string
	Address string
	Port    int
}

// Credential is held in memory only and never logged.
type Credential struct {
	Username string
	Password string
}

// LoginHandle is the opaque session token issued by the device. It is
// valid until the device drops it or the network fails.
type LoginHandle string

// SubHandle is the opaque token for an active event subscription. A
// SubHandle is only meaningful while its parent LoginHandle is valid.
type SubHandle string

// RawEvent is the vendor payload delivered by a device callback. It is
// ephemeral: valid only for the duration of one callback invocation.
// Fields carries the optional attribute bag whose keys vary by firmware
// and IVS configuration.
type RawEvent struct {
	Plate     string
	Timestamp string // device UTC string, format varies by vendor
	Image     []byte
	Fields    map[string]string
}

// EventFunc is the callback entry point. It is invoked from a
// connection-owned goroutine and must return promptly; slow work is
// handed off, never done inline.
type EventFunc func(RawEvent)

// DeviceConn is the vendor SDK surface for one device. All calls may
// block on network I/O and honor the supplied context deadline.
type DeviceConn interface {
	Login(ctx context.Context, cred Credential) (LoginHandle, error)

	// Subscribe registers interest in plate events on the given channel.
	// Must only be called with a currently valid login handle.
	Subscribe(ctx context.Context, login LoginHandle, channel int, cb EventFunc) (SubHandle, error)

	// KeepAlive is the liveness probe; bounded by ctx.
	KeepAlive(ctx context.Context, login LoginHandle) error

	// Unsubscribe and Logout are best-effort; the device may already be
	// gone. Callers tear down subscription before login, always together.
	Unsubscribe(sub SubHandle) error
	Logout(login LoginHandle) error

	Kind() string
}

// Factory builds a DeviceConn for a target.
type Factory func(target Target) DeviceConn

var registry = map[string]Factory{}

// Register adds a factory for a vendor. Called from vendor package init.
func Register(vendor string, f Factory) {
	registry[strings.ToLower(vendor)] = f
}

// Dial returns an initialized connection for the target's vendor.
func Dial(vendor string, target Target) (DeviceConn, error) {
	f, ok := registry[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
	return f(target), nil
}

// ParseDeviceTime parses the UTC timestamp strings devices emit.
// Dahua JSON-RPC: 2023-10-27 10:00:00
// ISO variants:   2023-10-27T10:00:00Z / 2023-10-27T10:00:00
// Sub-second precision is dropped; capture times are second-granular
// everywhere downstream. Returns the zero time when nothing matches;
// callers treat that as a malformed payload, never as "now".
func ParseDeviceTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	// time.Parse tolerates trailing fractional seconds on all of these
	// layouts, so one Truncate covers inputs like "...14:30:05.123".
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Truncate(time.Second)
		}
	}

	return time.Time{}
}

// RedactFields copies an attribute bag with sensitive values masked,
// safe for logging raw payloads on normalization failures.
func RedactFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		kl := strings.ToLower(k)
		if strings.Contains(kl, "password") || strings.Contains(kl, "token") || strings.Contains(kl, "secret") {
			out[k] = "[REDACTED]"
		} else {
			out[k] = v
		}
	}
	return out
}
