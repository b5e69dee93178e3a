package chain

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	reason := decodeRevertData(encodeErrorString(t, "ERC20: transfer amount exceeds allowance"))
	if reason != "ERC20: transfer amount exceeds allowance" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertFromErrorWithDataError(t *testing.T) {
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "not vault owner")),
	}
	if reason := decodeRevertFromError(err); reason != "not vault owner" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestWrapEVMExecutionErrorMapsRevert(t *testing.T) {
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "nothing to withdraw")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeUnavailable, "simulate withdraw", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) {
		t.Fatalf("expected typed error, got %T", wrapped)
	}
	if typed.Code != clierr.CodeReverted {
		t.Fatalf("expected reverted code, got %d", typed.Code)
	}
	if !strings.Contains(typed.Error(), "nothing to withdraw") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestWrapEVMExecutionErrorKeepsRejection(t *testing.T) {
	wrapped := wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast", clierr.ErrUserRejected)
	if clierr.CodeOf(wrapped) != clierr.CodeRejected {
		t.Fatalf("expected rejected code, got %v", wrapped)
	}
}

func TestParseTxHash(t *testing.T) {
	if _, ok := ParseTxHash("0x" + strings.Repeat("a", 64)); !ok {
		t.Fatal("expected valid tx hash to parse")
	}
	if _, ok := ParseTxHash("0x1234"); ok {
		t.Fatal("expected short tx hash to fail")
	}
	if _, ok := ParseTxHash("0x" + strings.Repeat("z", 64)); ok {
		t.Fatal("expected non-hex tx hash to fail")
	}
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	if err != nil || v.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Fatalf("unexpected gwei parse: %v %v", v, err)
	}
	if _, err := parseGwei("0.0000000001"); err == nil {
		t.Fatal("expected sub-wei value to fail")
	}
	if _, err := resolveFeeCap(big.NewInt(1), big.NewInt(2_000_000_000), "1"); err == nil {
		t.Fatal("expected fee cap below tip cap to fail")
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	unlock := acquireSignerNonceLock(big.NewInt(8453), addr)
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(8453), addr)
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
