package registry

import (
	"sort"
	"strings"
)

// Chain describes an EVM network the vault flows can target.
type Chain struct {
	ID       int64
	Name     string
	Slug     string
	Explorer string
	USDC     string
	// Factory is empty when no vault factory is deployed on the chain.
	Factory string
}

// USDCDecimals is identical on every supported chain.
const USDCDecimals = 6

var chains = map[int64]Chain{
	8453: {
		ID:       8453,
		Name:     "Base",
		Slug:     "base",
		Explorer: "https://basescan.org",
		USDC:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Factory:  "0x050E41182DF125D2Ad1A8bbcaD26994f0eC8BAAd",
	},
	42161: {
		ID:       42161,
		Name:     "Arbitrum",
		Slug:     "arbitrum",
		Explorer: "https://arbiscan.io",
		USDC:     "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		Factory:  "0xD7AF8f7FB8C660Faa3A2Db18F9eA3813be53f33F",
	},
	10: {
		ID:       10,
		Name:     "Optimism",
		Slug:     "optimism",
		Explorer: "https://optimistic.etherscan.io",
		USDC:     "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		Factory:  "0xD7AF8f7FB8C660Faa3A2Db18F9eA3813be53f33F",
	},
	// Known, but no factory yet.
	43114: {
		ID:       43114,
		Name:     "Avalanche",
		Slug:     "avalanche",
		Explorer: "https://snowtrace.io",
		USDC:     "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	},
}

func LookupChain(chainID int64) (Chain, bool) {
	c, ok := chains[chainID]
	return c, ok
}

func LookupChainBySlug(slug string) (Chain, bool) {
	norm := strings.ToLower(strings.TrimSpace(slug))
	for _, c := range chains {
		if c.Slug == norm {
			return c, true
		}
	}
	return Chain{}, false
}

// VaultFactory returns the factory address for chainID when one is configured.
func VaultFactory(chainID int64) (string, bool) {
	c, ok := chains[chainID]
	if !ok || strings.TrimSpace(c.Factory) == "" {
		return "", false
	}
	return c.Factory, true
}

func USDCAddress(chainID int64) (string, bool) {
	c, ok := chains[chainID]
	if !ok || c.USDC == "" {
		return "", false
	}
	return c.USDC, true
}

// Chains returns all known chains ordered by chain id.
func Chains() []Chain {
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
