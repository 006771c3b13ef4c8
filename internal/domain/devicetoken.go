package domain

import (
	"strings"
	"time"
	"unicode"
)

// Platform identifies the mobile platform a device token belongs to.
type Platform string

// Supported push platforms.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// Device token shape bounds. Real gateway tokens vary per platform, so
// validation is deliberately loose: bounded length, printable, no
// whitespace.
const (
	minDeviceTokenLength = 32
	maxDeviceTokenLength = 4096
)

// ValidDeviceToken checks the shape of a device token before it is
// accepted by the registry or sent to the gateway.
func ValidDeviceToken(token string) bool {
	if len(token) < minDeviceTokenLength || len(token) > maxDeviceTokenLength {
		return false
	}
	return !strings.ContainsFunc(token, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	})
}

// DeviceToken is one push-capable endpoint owned by a recipient.
// Tokens are deduplicated by value within a recipient and capped per
// recipient, oldest registration evicted first.
type DeviceToken struct {
	Recipient    string    `json:"-"`
	Token        string    `json:"-"`
	Platform     Platform  `json:"platform"`
	DeviceID     string    `json:"device_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastUsed     time.Time `json:"last_used"`
}
