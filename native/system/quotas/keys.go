package quotas

import (
	"fmt"
	"strings"
)

const quotasPrefix = "quotas"

func normaliseModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// counterKey addresses the single counter record kept per module and address.
// The record carries its epoch so a stale record simply resets on next use.
func counterKey(module string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s/%s/%x", quotasPrefix, normaliseModule(module), addr[:]))
}
