// Package v1 is the onboarding service's JSON+SSE API.
package v1

import (
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/metrics"
)

const defaultMaxConcurrentStreams = 64

// APIV1Service bundles everything the v1 handlers share.
type APIV1Service struct {
	Profile  *profile.Profile
	Manager  *onboarding.Manager
	Recorder *metrics.Recorder
	Secret   string

	// ChatApps, when set, adds the chat platform webhook and credential
	// routes.
	ChatApps *ChatAppsService

	limiters        *limiterRegistry
	streamSemaphore *semaphore.Weighted
}

func NewAPIV1Service(secret string, instanceProfile *profile.Profile, manager *onboarding.Manager, recorder *metrics.Recorder) *APIV1Service {
	maxStreams := instanceProfile.MaxConcurrentStreams
	if maxStreams <= 0 {
		maxStreams = defaultMaxConcurrentStreams
	}
	return &APIV1Service{
		Profile:         instanceProfile,
		Manager:         manager,
		Recorder:        recorder,
		Secret:          secret,
		limiters:        newLimiterRegistry(perMinute(instanceProfile.RateLimitPerMinute), instanceProfile.RateLimitBurst),
		streamSemaphore: semaphore.NewWeighted(maxStreams),
	}
}

// RegisterRoutes mounts the onboarding API under /api/v1. Every route runs
// behind the identity middleware. Platform webhooks sit outside the group;
// they authenticate with the platform's own secret instead.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1", s.identityMiddleware)
	g.POST("/onboarding/messages", s.SendMessage)
	g.GET("/onboarding/state", s.GetState)
	g.POST("/onboarding/commit", s.CommitOnboarding)
	g.POST("/onboarding/reset", s.ResetOnboarding)
	g.GET("/onboarding/conversations", s.ListConversations)

	if s.ChatApps != nil {
		e.POST("/webhooks/:platform", s.ChatApps.HandleWebhook)
		g.POST("/chatapps/credentials", s.ChatApps.RegisterCredential)
		g.GET("/chatapps/credentials", s.ChatApps.ListCredentials)
		g.PATCH("/chatapps/credentials/:id", s.ChatApps.SetCredentialEnabled)
		g.DELETE("/chatapps/credentials/:id", s.ChatApps.DeleteCredential)
	}
}
