package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

type rpcDataError interface {
	error
	ErrorData() interface{}
}

// decodeRevertData renders Error(string), Panic(uint256) or a bare custom
// error selector as a readable reason.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector := data[:4]
	switch {
	case bytes.Equal(selector, errorStringSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return ""
		}
		return reason
	case bytes.Equal(selector, panicSelector) && len(data) >= 36:
		code := new(big.Int).SetBytes(data[4:36])
		return fmt.Sprintf("panic code 0x%x", code)
	default:
		return fmt.Sprintf("custom error 0x%x", selector)
	}
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	var raw []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		buf, decodeErr := decodeHex(v)
		if decodeErr != nil {
			return ""
		}
		raw = buf
	case []byte:
		raw = v
	default:
		return ""
	}
	return decodeRevertData(raw)
}

// wrapEVMExecutionError attaches a decoded revert reason to node errors.
// Reverts map to CodeReverted and user rejections keep their own code.
func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if clierr.IsRejected(err) {
		return clierr.Wrap(clierr.CodeRejected, "user rejected the request", err)
	}
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(clierr.CodeReverted, fmt.Sprintf("%s: reverted: %s", message, reason), err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return clierr.Wrap(clierr.CodeReverted, message, err)
	}
	return clierr.Wrap(code, message, err)
}
