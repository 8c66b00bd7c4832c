package shared

// Scopes a system access token may be restricted to. An empty scope set on a
// token means unrestricted.
const (
	ScopeNotifyPublish = "notify.publish"
	ScopeTopicsManage  = "topics.manage"
	ScopeTargetsManage = "targets.manage"
	ScopeRelayForward  = "relay.forward"
)

// KnownScopes lists every scope the platform recognises.
func KnownScopes() []string {
	return []string{
		ScopeNotifyPublish,
		ScopeTopicsManage,
		ScopeTargetsManage,
		ScopeRelayForward,
	}
}

// KnownScope reports whether the given scope name is recognised.
func KnownScope(scope string) bool {
	for _, s := range KnownScopes() {
		if s == scope {
			return true
		}
	}
	return false
}
