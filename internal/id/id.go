package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

var eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)

// ParseChain accepts a slug ("base"), a numeric id ("8453") or a CAIP-2 id
// ("eip155:8453") and resolves it against the known chains.
func ParseChain(input string) (registry.Chain, error) {
	raw := strings.ToLower(strings.TrimSpace(input))
	if raw == "" {
		return registry.Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if chain, ok := registry.LookupChainBySlug(raw); ok {
		return chain, nil
	}
	numeric := raw
	if eip155ChainPattern.MatchString(raw) {
		numeric = strings.TrimPrefix(raw, "eip155:")
	}
	chainID, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return registry.Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
	}
	if chain, ok := registry.LookupChain(chainID); ok {
		return chain, nil
	}
	return registry.Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %d is not supported", chainID))
}

// CAIP2 renders a chain id in eip155 form.
func CAIP2(chainID int64) string {
	return fmt.Sprintf("eip155:%d", chainID)
}

// ParseAddress validates a 20-byte hex address and rejects the zero address.
func ParseAddress(field, input string) (common.Address, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a valid EVM address", field))
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must not be the zero address", field))
	}
	return addr, nil
}
