package shared

// QuotaResetLockKey builds the redis key guarding the quota reset run.
func QuotaResetLockKey() string {
	return "tokens:quota_reset:lock"
}
