package auth

// Scopes accepted by the HTTP API.
const (
	ScopeTrackingRead       = "tracking:read"
	ScopeNotificationsWrite = "notifications:write"
)
