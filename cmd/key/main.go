package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drone-delivery/internal/cli"
)

// Dev helper: generates the RS256 keypair the services load at startup,
// and optionally mints a debug access token against the private key.
func main() {
	var (
		outDir  = flag.String("out", "keys", "Directory to write jwt_private.pem and jwt_public.pem into")
		bits    = flag.Int("bits", 2048, "RSA key size in bits")
		subject = flag.String("subject", "", "Optional: also mint a debug token for this subject (usually a delivery ID)")
		role    = flag.String("role", "customer", "Role for the debug token: drone_device | operator | customer | admin")
		scopes  = flag.String("scopes", "tracking:read", "Comma-separated scopes for the debug token")
		ttl     = flag.Duration("ttl", 15*time.Minute, "Debug token lifetime")
	)
	flag.Parse()

	privPath := filepath.Join(*outDir, "jwt_private.pem")
	pubPath := filepath.Join(*outDir, "jwt_public.pem")

	if err := generateKeypair(*outDir, privPath, pubPath, *bits); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println("private key:", privPath)
	fmt.Println("public key: ", pubPath)

	if *subject == "" {
		return
	}

	token, claims, err := cli.GenerateDebugToken(privPath, *subject, *role, splitScopes(*scopes), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("\nTOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:    %s\n", claims.Subject)
	fmt.Printf("  role:   %s\n", claims.Role)
	fmt.Printf("  scopes: %s\n", *scopes)
	fmt.Printf("  iat:    %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:    %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}

func generateKeypair(outDir, privPath, pubPath string, bits int) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", outDir, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", privPath, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", pubPath, err)
	}

	return nil
}

func splitScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
