package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/goliatone/go-errors"
)

const (
	pemTypePrivate = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

// KeyPair holds the RSA signing key material. The private key is only
// needed by the issuing process; verifiers load the public half alone.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA key pair for RS256 signing. Key
// generation is an offline operation; see cmd/identity-keygen.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate RSA key")
	}

	return &KeyPair{
		Private: private,
		Public:  &private.PublicKey,
	}, nil
}

// EncodePrivatePEM exports the private key as a PKCS8 PEM block.
func (kp *KeyPair) EncodePrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to marshal private key")
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivate,
		Bytes: der,
	}), nil
}

// EncodePublicPEM exports the public key as an SPKI PEM block.
func (kp *KeyPair) EncodePublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to marshal public key")
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePublic,
		Bytes: der,
	}), nil
}

// ParsePrivateKeyPEM loads a PKCS8 RSA private key from PEM data.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key data", errors.CategoryBadInput)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse PKCS8 private key")
	}

	private, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA", errors.CategoryBadInput)
	}

	return private, nil
}

// ParsePublicKeyPEM loads an SPKI RSA public key from PEM data.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in public key data", errors.CategoryBadInput)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse SPKI public key")
	}

	public, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA", errors.CategoryBadInput)
	}

	return public, nil
}

// LoadKeyPairPEM reconstructs a key pair from PEM-encoded halves.
func LoadKeyPairPEM(privatePEM []byte) (*KeyPair, error) {
	private, err := ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Private: private,
		Public:  &private.PublicKey,
	}, nil
}

// LoadKeyPairFiles loads the issuing key pair from a PKCS8 private key file.
// Called once at process start; the pair is immutable afterwards.
func LoadKeyPairFiles(privatePath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to read private key file")
	}
	return LoadKeyPairPEM(data)
}

// LoadPublicKeyFile loads the verification key for verify-only processes.
func LoadPublicKeyFile(publicPath string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to read public key file")
	}
	return ParsePublicKeyPEM(data)
}
