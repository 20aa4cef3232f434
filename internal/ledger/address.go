package ledger

import (
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
)

// ValidateAddress checks addr is a well-formed Neo N3 address and returns it
// trimmed.
func ValidateAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", core.RequiredError("target_address")
	}
	if _, err := address.StringToUint160(addr); err != nil {
		return "", core.NewValidationError("target_address", "invalid Neo N3 address: "+err.Error())
	}
	return addr, nil
}
