package ipc

import "github.com/al-bashkir/sessiongate/internal/logsanitize"

// sanitizeIPCValue strips control characters from request fields before
// they are logged. Any local process that can reach the socket controls them.
func sanitizeIPCValue(s string) string {
	return logsanitize.Sanitize(s)
}
