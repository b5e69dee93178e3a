package app

import (
	"math/big"
	"strings"
	"time"

	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/id"
	"github.com/ggonzalez94/vaultflow/internal/model"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

func usdcAmount(n *big.Int) model.Amount {
	if n == nil {
		n = new(big.Int)
	}
	return model.Amount{BaseUnits: n.String(), Decimal: id.FormatDecimal(n, registry.USDCDecimals)}
}

func flowResult(s flow.State) model.FlowResult {
	res := model.FlowResult{
		FlowID:       s.ID,
		Kind:         string(s.Kind),
		Step:         string(s.Step),
		TxHash:       s.TxHash,
		VaultAddress: s.VaultAddress,
		UnwindTxs:    s.UnwindTxs,
		Abandoned:    s.Abandoned,
	}
	if s.ChainID != 0 {
		res.ChainID = id.CAIP2(s.ChainID)
	}
	if n, ok := new(big.Int).SetString(s.Amount, 10); ok {
		amt := usdcAmount(n)
		res.Amount = &amt
	}
	if s.TxHash != "" {
		if c, ok := registry.LookupChain(s.ChainID); ok && c.Explorer != "" {
			res.ExplorerURL = strings.TrimRight(c.Explorer, "/") + "/tx/" + s.TxHash
		}
	}
	if s.Failed() {
		res.ErrorAtStep = string(s.ErrorAtStep())
		res.Error = s.ErrorMessage()
	}
	if !s.UpdatedAt.IsZero() {
		res.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return res
}

func withdrawPreview(p flow.Preflight) model.WithdrawPreview {
	preview := model.WithdrawPreview{
		ChainID:     id.CAIP2(p.ChainID),
		Owner:       p.Owner.Hex(),
		Direct:      usdcAmount(p.Direct),
		Deployed:    usdcAmount(p.Deployed),
		Total:       usdcAmount(p.Total),
		NeedsUnwind: p.NeedsUnwind,
		Nothing:     p.Nothing,
	}
	if p.HasVault {
		preview.Vault = p.Vault.Hex()
	}
	for _, pos := range p.Positions {
		preview.Positions = append(preview.Positions, model.PositionInfo{
			Protocol: pos.Protocol,
			Token:    pos.Token.Hex(),
			Value:    usdcAmount(pos.Value),
		})
	}
	return preview
}

func chainInfo(c registry.Chain) model.ChainInfo {
	return model.ChainInfo{
		ChainID:      id.CAIP2(c.ID),
		Name:         c.Name,
		Slug:         c.Slug,
		USDC:         c.USDC,
		VaultFactory: c.Factory,
		Supported:    c.Factory != "",
	}
}
