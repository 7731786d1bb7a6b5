package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random id such as "sale-1b4e28ba2fa1...". Ids sort
// by creation time because the uuid is version 7.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}
