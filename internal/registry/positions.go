package registry

// PositionKind selects how a deployed position is valued.
type PositionKind string

const (
	// PositionAToken is a rebasing receipt token whose balance is the underlying value.
	PositionAToken PositionKind = "atoken"
	// PositionERC4626 holds shares that convert to assets through the vault.
	PositionERC4626 PositionKind = "erc4626"
)

// PositionSource is a yield venue the agent may deploy vault funds into.
type PositionSource struct {
	Protocol string
	Kind     PositionKind
	Token    string
}

var positionSourcesByChainID = map[int64][]PositionSource{
	8453: {
		{Protocol: "aave-v3", Kind: PositionAToken, Token: "0x4e65fE4DbA92790696d040ac24Aa414708F5c0AB"},
		{Protocol: "morpho-v1", Kind: PositionERC4626, Token: "0xbeeF010f9cb27031ad51e3333f9aF9C6B1228183"},
		{Protocol: "euler-v2", Kind: PositionERC4626, Token: "0x0A1a3b5f2041F33522C4efc754a7D096f880eE16"},
	},
	42161: {
		{Protocol: "aave-v3", Kind: PositionAToken, Token: "0x724dc807b04555b71ed48a6896b6F41593b8C637"},
		{Protocol: "euler-v2", Kind: PositionERC4626, Token: "0x0a1eCC5Fe8C9be3C809844fcBe615B46A869b899"},
	},
	10: {
		{Protocol: "aave-v3", Kind: PositionAToken, Token: "0x625E7708f30cA75bfd92586e17077590C60eb4cD"},
	},
}

// PositionSources lists the venues whose balances count as deployed value on chainID.
func PositionSources(chainID int64) []PositionSource {
	src := positionSourcesByChainID[chainID]
	out := make([]PositionSource, len(src))
	copy(out, src)
	return out
}
