// Package signing produces and verifies label signatures.
//
// A label is signed over the deterministic CBOR encoding of its unsigned
// fields, so any holder of the issuer's public key can verify a label byte
// for byte without trusting this service's transport.
package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
)

// SignatureSize is the fixed length of a raw r||s P-256 signature.
const SignatureSize = 64

// KeyProvider abstracts access to the signing key. The label authority only
// holds this capability, never raw key material.
type KeyProvider interface {
	// Sign signs a digest-sized message and returns a raw r||s signature.
	Sign(data []byte) ([]byte, error)
	// PublicKey returns the verification key for a key version.
	PublicKey(version string) (*ecdsa.PublicKey, error)
	// Version names the currently active key.
	Version() string
}

// unsignedLabel mirrors the label wire fields minus the signature.
// Field set and key names are fixed; changing them invalidates every
// previously issued signature.
type unsignedLabel struct {
	Ver int    `cbor:"ver"`
	Src string `cbor:"src"`
	URI string `cbor:"uri"`
	CID string `cbor:"cid,omitempty"`
	Val string `cbor:"val"`
	Neg bool   `cbor:"neg,omitempty"`
	CTS string `cbor:"cts"`
	Exp string `cbor:"exp,omitempty"`
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder options: %v", err))
	}
}

// EncodeUnsigned returns the canonical byte form of a label's signed fields.
func EncodeUnsigned(l *domain.Label) ([]byte, error) {
	u := unsignedLabel{
		Ver: l.Version,
		Src: l.Issuer,
		URI: l.SubjectURI,
		CID: l.SubjectFingerprint,
		Val: l.Value,
		Neg: l.Negated,
		CTS: l.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if l.ExpiresAt != nil {
		u.Exp = l.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	data, err := encMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode unsigned label: %w", err)
	}
	return data, nil
}

// SignLabel signs l in place, setting Signature and KeyVersion.
func SignLabel(l *domain.Label, keys KeyProvider) error {
	data, err := EncodeUnsigned(l)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)

	sig, err := keys.Sign(digest[:])
	if err != nil {
		return errors.Wrap(err, errors.CodeSigningKeyUnavailable, "sign label")
	}

	l.Signature = sig
	l.KeyVersion = keys.Version()
	return nil
}

// VerifyLabel checks l's signature against the public key for its key version.
func VerifyLabel(l *domain.Label, keys KeyProvider) (bool, error) {
	if len(l.Signature) != SignatureSize {
		return false, nil
	}

	pub, err := keys.PublicKey(l.KeyVersion)
	if err != nil {
		return false, err
	}

	data, err := EncodeUnsigned(l)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)

	r := new(big.Int).SetBytes(l.Signature[:SignatureSize/2])
	s := new(big.Int).SetBytes(l.Signature[SignatureSize/2:])
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

// LocalKeyProvider holds a single P-256 key loaded from configuration.
type LocalKeyProvider struct {
	key     *ecdsa.PrivateKey
	version string
}

// NewLocalKeyProvider parses a hex-encoded P-256 private scalar.
func NewLocalKeyProvider(keyHex, version string) (*LocalKeyProvider, error) {
	if keyHex == "" {
		return nil, errors.SigningKeyUnavailable("no signing key configured")
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSigningKeyUnavailable, "decode signing key")
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.SigningKeyUnavailable("signing key scalar out of range")
	}

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())

	return &LocalKeyProvider{key: key, version: version}, nil
}

// Sign signs a digest and returns a fixed-width r||s signature.
func (p *LocalKeyProvider) Sign(data []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, p.key, data)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}

	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:SignatureSize/2])
	s.FillBytes(sig[SignatureSize/2:])
	return sig, nil
}

// PublicKey returns the verification key for version. Only the active
// version is resolvable; rotated keys would need a key store behind this.
func (p *LocalKeyProvider) PublicKey(version string) (*ecdsa.PublicKey, error) {
	if version != p.version {
		return nil, errors.NotFoundf("unknown key version %q", version)
	}
	return &p.key.PublicKey, nil
}

// Version returns the active key version.
func (p *LocalKeyProvider) Version() string {
	return p.version
}

// PublicKeyPEM renders the verification key for a version as PKIX PEM.
func PublicKeyPEM(keys KeyProvider, version string) (string, error) {
	pub, err := keys.PublicKey(version)
	if err != nil {
		return "", err
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}

	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return string(block), nil
}
