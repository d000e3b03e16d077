package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"time"

	"discord-router/internal/registry"
)

const (
	serviceName    = "Discord Interaction Handler"
	serviceVersion = "1.0.0"
	maxAdminBytes  = 64 << 10
)

// ServiceInfo is the process-level detail reported by /status.
type ServiceInfo struct {
	Env                  string
	Port                 int
	DiscordKeyConfigured bool
	RequestTimeout       time.Duration
}

type AdminHandler struct {
	reg     *registry.Registry
	info    ServiceInfo
	started time.Time
	now     func() time.Time
}

func NewAdminHandler(reg *registry.Registry, info ServiceInfo) *AdminHandler {
	return &AdminHandler{reg: reg, info: info, started: time.Now(), now: time.Now}
}

type appIDRequest struct {
	AppID string `json:"appId"`
}

type registerResponse struct {
	Success            bool     `json:"success"`
	Message            string   `json:"message"`
	AppID              string   `json:"appId"`
	RegisteredChannels []string `json:"registeredChannels"`
}

type unregisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	AppID   string `json:"appId"`
}

type heartbeatResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AppID         string    `json:"appId"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *AdminHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registry.Registration
	if !decodeBody(w, r, &req) {
		return
	}
	app, err := h.reg.Register(r.Context(), req)
	if err != nil {
		writeRegistryError(w, err, req.AppID)
		return
	}

	channels := app.ChannelIDs()
	slices.Sort(channels)
	writeJSON(w, http.StatusOK, registerResponse{
		Success:            true,
		Message:            "App registered successfully",
		AppID:              app.AppID,
		RegisteredChannels: channels,
	})
}

func (h *AdminHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req appIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := h.reg.Unregister(r.Context(), req.AppID); err != nil {
		writeRegistryError(w, err, req.AppID)
		return
	}
	writeJSON(w, http.StatusOK, unregisterResponse{Success: true, Message: "App unregistered successfully", AppID: req.AppID})
}

func (h *AdminHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req appIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	at, err := h.reg.Heartbeat(r.Context(), req.AppID)
	if err != nil {
		writeRegistryError(w, err, req.AppID)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Success: true, Message: "Heartbeat received", AppID: req.AppID, LastHeartbeat: at})
}

type healthCampaign struct {
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
	Endpoint  string `json:"endpoint"`
	AppID     string `json:"appId,omitempty"`
}

type healthResponse struct {
	Status              string           `json:"status"`
	Timestamp           time.Time        `json:"timestamp"`
	ConfiguredCampaigns int              `json:"configuredCampaigns"`
	RegisteredApps      int              `json:"registeredApps"`
	Campaigns           []healthCampaign `json:"campaigns"`
}

func (h *AdminHandler) Health(w http.ResponseWriter, _ *http.Request) {
	active := h.reg.ListActive()
	campaigns := make([]healthCampaign, 0, len(active))
	for _, c := range active {
		campaigns = append(campaigns, healthCampaign{Name: c.Name, ChannelID: c.ChannelID, Endpoint: c.Endpoint, AppID: c.AppID})
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:              "healthy",
		Timestamp:           h.now().UTC(),
		ConfiguredCampaigns: len(active),
		RegisteredApps:      h.reg.Count(),
		Campaigns:           campaigns,
	})
}

type memoryUsage struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

type statusEnvironment struct {
	Env                  string `json:"env"`
	Port                 int    `json:"port"`
	DiscordKeyConfigured bool   `json:"discordKeyConfigured"`
	RequestTimeout       string `json:"requestTimeout"`
}

type statusCampaign struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	ChannelID  string `json:"channelId"`
	Endpoint   string `json:"endpoint"`
	Source     string `json:"source"`
	AppID      string `json:"appId,omitempty"`
}

type statusResponse struct {
	Service        string                   `json:"service"`
	Version        string                   `json:"version"`
	Uptime         float64                  `json:"uptime"`
	Memory         memoryUsage              `json:"memory"`
	Environment    statusEnvironment        `json:"environment"`
	RegisteredApps []registry.RegisteredApp `json:"registeredApps"`
	Campaigns      []statusCampaign         `json:"campaigns"`
}

func (h *AdminHandler) Status(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	campaigns := make([]statusCampaign, 0)
	for _, c := range h.reg.Static() {
		configured := registry.Configured(c.ChannelID)
		channelID := c.ChannelID
		if !configured {
			channelID = "NOT_CONFIGURED"
		}
		campaigns = append(campaigns, statusCampaign{
			Name: c.Name, Configured: configured, ChannelID: channelID, Endpoint: c.Endpoint, Source: "static",
		})
	}
	apps := h.reg.Apps()
	for _, a := range apps {
		ids := a.ChannelIDs()
		slices.Sort(ids)
		for _, id := range ids {
			campaigns = append(campaigns, statusCampaign{
				Name: a.Name, Configured: true, ChannelID: id, Endpoint: a.Endpoint, Source: "dynamic", AppID: a.AppID,
			})
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Service: serviceName,
		Version: serviceVersion,
		Uptime:  h.now().Sub(h.started).Seconds(),
		Memory: memoryUsage{
			Alloc:      ms.Alloc,
			TotalAlloc: ms.TotalAlloc,
			Sys:        ms.Sys,
			HeapAlloc:  ms.HeapAlloc,
			HeapInuse:  ms.HeapInuse,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Environment: statusEnvironment{
			Env:                  h.info.Env,
			Port:                 h.info.Port,
			DiscordKeyConfigured: h.info.DiscordKeyConfigured,
			RequestTimeout:       fmt.Sprintf("%dms", h.info.RequestTimeout.Milliseconds()),
		},
		RegisteredApps: apps,
		Campaigns:      campaigns,
	})
}
