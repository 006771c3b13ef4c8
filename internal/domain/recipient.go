package domain

// ChannelPreference holds one recipient's opt-in settings for a channel.
// Types may narrow the opt-in to specific notification types; an empty map
// means the channel applies to every type.
type ChannelPreference struct {
	Enabled bool                      `json:"enabled"`
	Types   map[NotificationType]bool `json:"types,omitempty"`
}

// Preferences maps channels to a recipient's opt-in settings. A channel
// absent from the map is never attempted for that recipient.
type Preferences map[ChannelType]ChannelPreference

// Eligible reports whether the given channel applies to a notification of
// the given type.
func (p Preferences) Eligible(channel ChannelType, t NotificationType) bool {
	pref, ok := p[channel]
	if !ok || !pref.Enabled {
		return false
	}
	if len(pref.Types) == 0 {
		return true
	}
	return pref.Types[t]
}

// RecipientProfile is the already-resolved delivery configuration for one
// recipient, supplied by the recipient directory at call time.
type RecipientProfile struct {
	ID          string      `json:"id"`
	Email       string      `json:"email,omitempty"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
	IsOperator  bool        `json:"is_operator"`
	Preferences Preferences `json:"preferences"`
}
