package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionID derives an anonymous session id from client attributes. It changes
// every hour so that analytics cannot follow a client for long.
func SessionID(clientIP, userAgent string, now time.Time) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", clientIP, userAgent, now.Unix()/3600)))
	return hex.EncodeToString(hash[:])[:16]
}

// ValidateSessionID validates if a session ID format is correct
func ValidateSessionID(sessionID string) bool {
	if len(sessionID) != 16 {
		return false
	}

	_, err := hex.DecodeString(sessionID)
	return err == nil
}
