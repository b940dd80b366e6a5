package descriptor

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// splitDescriptor parses a pipe-separated list of cosigner extended public
// keys out of a multi-sig wallet's descriptor field.
func splitDescriptor(descriptor string) []string {
	parts := strings.Split(descriptor, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sortPubKeysLexicographically orders cosigner public keys per BIP-67 so
// that the same cosigner set always produces the same redeem script
// regardless of descriptor ordering.
func sortPubKeysLexicographically(pubKeys [][]byte) {
	sort.Slice(pubKeys, func(i, j int) bool {
		return bytes.Compare(pubKeys[i], pubKeys[j]) < 0
	})
}

// buildMultiSigScript builds an M-of-N OP_CHECKMULTISIG redeem script.
func buildMultiSigScript(m int, pubKeys [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(m))
	for _, pk := range pubKeys {
		builder.AddData(pk)
	}
	builder.AddInt64(int64(len(pubKeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("build multisig redeem script: %w", err)
	}
	return script, nil
}

// sha256Sum is the witness-script hash used for P2WSH addresses.
func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}
