package registry

import (
	"maps"
	"time"
)

// CampaignConfig identifies the backend that owns one channel.
type CampaignConfig struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	ChannelID string `json:"channelId"`
	// AppID is set only for dynamically registered campaigns.
	AppID string `json:"appId,omitempty"`
}

// Dynamic reports whether the config came from a registration rather than static config.
func (c CampaignConfig) Dynamic() bool { return c.AppID != "" }

// ChannelInfo is the per-channel metadata a campaign announces.
type ChannelInfo struct {
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Registration is the input of Register.
type Registration struct {
	AppID       string                 `json:"appId"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Endpoint    string                 `json:"endpoint"`
	Channels    map[string]ChannelInfo `json:"channels"`
}

// RegisteredApp is the registry's record of a dynamically registered campaign instance.
type RegisteredApp struct {
	AppID         string                 `json:"appId"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Endpoint      string                 `json:"endpoint"`
	Channels      map[string]ChannelInfo `json:"channels"`
	RegisteredAt  time.Time              `json:"registeredAt"`
	LastHeartbeat time.Time              `json:"lastHeartbeat"`
}

func (a RegisteredApp) clone() RegisteredApp {
	a.Channels = maps.Clone(a.Channels)
	return a
}

// ChannelIDs returns the app's channels in no particular order.
func (a RegisteredApp) ChannelIDs() []string {
	out := make([]string, 0, len(a.Channels))
	for id := range a.Channels {
		out = append(out, id)
	}
	return out
}
