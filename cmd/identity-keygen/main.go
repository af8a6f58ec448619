// identity-keygen generates the RSA key pair used to sign and verify
// session tokens. It is an offline step: the private key stays with the
// issuing process, the public key is distributed to verifiers.
package main

import (
	"flag"
	"fmt"
	"os"

	identity "github.com/complyport/go-identity"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "identity-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		bits        = flag.Int("bits", 2048, "RSA key size in bits (minimum 2048)")
		privatePath = flag.String("private", "identity_private.pem", "output path for the private key (PKCS8 PEM)")
		publicPath  = flag.String("public", "identity_public.pem", "output path for the public key (SPKI PEM)")
		force       = flag.Bool("force", false, "overwrite existing key files")
	)
	flag.Parse()

	if !*force {
		for _, path := range []string{*privatePath, *publicPath} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, pass -force to overwrite", path)
			}
		}
	}

	keys, err := identity.GenerateKeyPair(*bits)
	if err != nil {
		return err
	}

	privatePEM, err := keys.EncodePrivatePEM()
	if err != nil {
		return err
	}

	publicPEM, err := keys.EncodePublicPEM()
	if err != nil {
		return err
	}

	// The private key is signing material; keep it owner-readable only.
	if err := os.WriteFile(*privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	if err := os.WriteFile(*publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Printf("wrote %s and %s (%d bits)\n", *privatePath, *publicPath, *bits)
	return nil
}
