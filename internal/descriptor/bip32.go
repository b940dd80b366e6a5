package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// BIP32Deriver derives addresses from an account-level extended public key
// stored in Wallet.Descriptor, following the BIP-44/49/84/86 path
// conventions selected by the wallet's script type. Only the non-hardened
// change/index levels are derived, matching how a watch-only wallet
// actually consumes an xpub — hardened levels live upstream of the
// descriptor and are never seen here.
type BIP32Deriver struct{}

// NewBIP32Deriver constructs the reference single-signature deriver.
func NewBIP32Deriver() *BIP32Deriver {
	return &BIP32Deriver{}
}

func networkParams(n models.Network) *chaincfg.Params {
	switch n {
	case models.NetworkMainnet:
		return &chaincfg.MainNetParams
	case models.NetworkSignet:
		return &chaincfg.SigNetParams
	case models.NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

func purposePath(scriptType models.ScriptType) string {
	switch scriptType {
	case models.ScriptLegacy:
		return "44"
	case models.ScriptNestedSegwit:
		return "49"
	case models.ScriptTaproot:
		return "86"
	default:
		return "84"
	}
}

// DeriveAddress implements Deriver.
func (d *BIP32Deriver) DeriveAddress(wallet *models.Wallet, chain models.AddressChain, index uint32) (string, string, error) {
	if wallet.IsMultiSig() {
		return d.deriveMultiSig(wallet, chain, index)
	}

	accountKey, err := hdkeychain.NewKeyFromString(wallet.Descriptor)
	if err != nil {
		return "", "", fmt.Errorf("parse descriptor for wallet %s: %w", wallet.ID, err)
	}

	net := networkParams(wallet.Network)
	addr, err := deriveSingleSigAddress(accountKey, wallet.ScriptType, uint32(chain), index, net)
	if err != nil {
		return "", "", err
	}

	path := fmt.Sprintf("m/%s'/.../%d/%d", purposePath(wallet.ScriptType), chain, index)
	return addr, path, nil
}

func deriveSingleSigAddress(accountKey *hdkeychain.ExtendedKey, scriptType models.ScriptType, chain, index uint32, net *chaincfg.Params) (string, error) {
	changeKey, err := accountKey.Derive(chain)
	if err != nil {
		return "", fmt.Errorf("derive change key: %w", err)
	}
	childKey, err := changeKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("derive child key at index %d: %w", index, err)
	}

	pubKey, err := childKey.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("get public key at index %d: %w", index, err)
	}

	switch scriptType {
	case models.ScriptLegacy:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), net)
		if err != nil {
			return "", fmt.Errorf("create legacy address: %w", err)
		}
		return addr.EncodeAddress(), nil

	case models.ScriptNestedSegwit:
		witnessProg := btcutil.Hash160(pubKey.SerializeCompressed())
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, net)
		if err != nil {
			return "", fmt.Errorf("create witness program: %w", err)
		}
		redeemScript, err := p2wpkhRedeemScript(witnessAddr)
		if err != nil {
			return "", err
		}
		addr, err := btcutil.NewAddressScriptHash(redeemScript, net)
		if err != nil {
			return "", fmt.Errorf("create nested segwit address: %w", err)
		}
		return addr.EncodeAddress(), nil

	case models.ScriptTaproot:
		internalKey := schnorr.SerializePubKey(pubKey)
		addr, err := btcutil.NewAddressTaproot(internalKey, net)
		if err != nil {
			return "", fmt.Errorf("create taproot address: %w", err)
		}
		return addr.EncodeAddress(), nil

	default: // native segwit, BIP-84
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), net)
		if err != nil {
			return "", fmt.Errorf("create native segwit address: %w", err)
		}
		return addr.EncodeAddress(), nil
	}
}

func p2wpkhRedeemScript(witnessAddr *btcutil.AddressWitnessPubKeyHash) ([]byte, error) {
	// OP_0 <20-byte-hash>
	hash := witnessAddr.Hash160()
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14)
	script = append(script, hash[:]...)
	return script, nil
}

// deriveMultiSig derives a P2WSH bare multisig address by deriving each
// cosigner's child key independently and sorting them (BIP-67) before
// building the redeem script. Wallet.Descriptor holds a pipe-separated
// list of cosigner account xpubs.
func (d *BIP32Deriver) deriveMultiSig(wallet *models.Wallet, chain models.AddressChain, index uint32) (string, string, error) {
	if wallet.QuorumM == nil || wallet.QuorumN == nil {
		return "", "", fmt.Errorf("multi-sig wallet %s missing quorum", wallet.ID)
	}

	cosignerXpubs := splitDescriptor(wallet.Descriptor)
	if len(cosignerXpubs) != *wallet.QuorumN {
		return "", "", fmt.Errorf("wallet %s descriptor lists %d cosigners, quorum n=%d", wallet.ID, len(cosignerXpubs), *wallet.QuorumN)
	}

	net := networkParams(wallet.Network)
	pubKeys := make([][]byte, 0, len(cosignerXpubs))
	for _, xpub := range cosignerXpubs {
		accountKey, err := hdkeychain.NewKeyFromString(xpub)
		if err != nil {
			return "", "", fmt.Errorf("parse cosigner xpub for wallet %s: %w", wallet.ID, err)
		}
		changeKey, err := accountKey.Derive(uint32(chain))
		if err != nil {
			return "", "", fmt.Errorf("derive cosigner change key: %w", err)
		}
		childKey, err := changeKey.Derive(index)
		if err != nil {
			return "", "", fmt.Errorf("derive cosigner child key: %w", err)
		}
		pubKey, err := childKey.ECPubKey()
		if err != nil {
			return "", "", fmt.Errorf("get cosigner public key: %w", err)
		}
		pubKeys = append(pubKeys, pubKey.SerializeCompressed())
	}

	sortPubKeysLexicographically(pubKeys)

	redeemScript, err := buildMultiSigScript(*wallet.QuorumM, pubKeys)
	if err != nil {
		return "", "", err
	}

	addr, err := btcutil.NewAddressWitnessScriptHash(sha256Sum(redeemScript), net)
	if err != nil {
		return "", "", fmt.Errorf("create multi-sig address: %w", err)
	}

	path := fmt.Sprintf("m/48'/.../%d/%d", chain, index)
	return addr.EncodeAddress(), path, nil
}
