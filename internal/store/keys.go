package store

import "strings"

// SessionPrefix is shared by every session record key.
const SessionPrefix = "interaction:"

// Rate budget keys. There is exactly one budget for the whole deployment.
const (
	BudgetRemainingKey = "rate-budget:remaining"
	BudgetResetAtKey   = "rate-budget:reset-at"
)

// SessionKey holds the immutable session record.
func SessionKey(token string) string { return SessionPrefix + token }

// TokenFromSessionKey reverses SessionKey.
func TokenFromSessionKey(key string) (string, bool) {
	if !strings.HasPrefix(key, SessionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, SessionPrefix), true
}

// ClaimKey marks that an attempt has taken ownership of the terminal outcome.
func ClaimKey(token string) string { return "claim:" + token }

// LeaseKey is held while one worker runs an attempt for the token.
func LeaseKey(token string) string { return "lease:" + token }

// SoftDeletedKey marks a delivered result as redacted.
func SoftDeletedKey(token string) string { return "soft-deleted:" + token }

// DeliveredKey holds the verbatim delivered result payload.
func DeliveredKey(token string) string { return "delivered:" + token }

// MessageTokenKey maps a delivered message id back to its interaction token.
func MessageTokenKey(messageID string) string { return "message:" + messageID + ":token" }

// UserTokenKey is present while the user has a live authorization token.
func UserTokenKey(userID string) string { return "user:" + userID + ":token" }

// UserAccountKey holds the user's resolved game-library account id.
func UserAccountKey(userID string) string { return "user:" + userID + ":account" }

// UserPresentKey is a short-lived "seen active" marker.
func UserPresentKey(userID string) string { return "user:" + userID + ":present" }

// PresenceSeenKey sticks once a participant has been seen during an interaction.
func PresenceSeenKey(token, userID string) string {
	return "presence-seen:" + token + ":" + userID
}

// CacheKey namespaces game-library cache entries.
func CacheKey(parts ...string) string { return "cache:" + strings.Join(parts, ":") }
