package agreement

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseArg converts a prefixed textual call argument into raw bytes:
//
//	str:hello  int:1000  addr:<address>  b64:<base64>  hex:<hex>
//
// An argument without a known prefix is taken as a string.
func ParseArg(s string) ([]byte, error) {
	kind, val, ok := strings.Cut(s, ":")
	if !ok {
		return []byte(s), nil
	}
	switch kind {
	case "str", "string":
		return []byte(val), nil
	case "int":
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse int arg %q: %w", val, err)
		}
		return Itob(v), nil
	case "addr", "address":
		a, err := ParseAddress(val)
		if err != nil {
			return nil, err
		}
		return a.Bytes(), nil
	case "b64", "base64":
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("could not decode base64 arg: %w", err)
		}
		return b, nil
	case "hex":
		b, err := hex.DecodeString(strings.TrimPrefix(val, "0x"))
		if err != nil {
			return nil, fmt.Errorf("could not decode hex arg: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// ParseArgs applies ParseArg to each element.
func ParseArgs(in []string) ([][]byte, error) {
	out := make([][]byte, 0, len(in))
	for i, s := range in {
		b, err := ParseArg(s)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Argument builders for each action, in the order the router expects them.

func InitializeArgs(buyer, seller Address, amount uint64, documentHash []byte) [][]byte {
	return [][]byte{[]byte(ActionInitialize.String()), buyer.Bytes(), seller.Bytes(), Itob(amount), documentHash}
}

func AddMilestoneArgs(title, description string) [][]byte {
	return [][]byte{[]byte(ActionAddMilestone.String()), []byte(title), []byte(description)}
}

func CompleteMilestoneArgs(index uint64) [][]byte {
	return [][]byte{[]byte(ActionCompleteMilestone.String()), Itob(index)}
}

func VerifySignatureArgs(party Address) [][]byte {
	return [][]byte{[]byte(ActionVerifySignature.String()), party.Bytes()}
}

func ExecuteAgreementArgs() [][]byte {
	return [][]byte{[]byte(ActionExecuteAgreement.String())}
}

func CancelAgreementArgs() [][]byte {
	return [][]byte{[]byte(ActionCancelAgreement.String())}
}
