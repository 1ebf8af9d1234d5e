package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenMessageID returns a provider-shaped message id for locally originated
// sends, e.g. "wamid.9A8B7C6D...". Ingested messages keep the id the
// provider assigned.
func GenMessageID() string {
	u := uuid.New()
	hex := strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))
	return "wamid." + hex
}
