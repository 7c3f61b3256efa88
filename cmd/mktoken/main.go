// Command mktoken mints a signed connect token for development and
// testing. The private key comes from AUTH_PRIVATE_KEY.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/pulse/internal/auth"
	"github.com/eldtechnologies/pulse/internal/models"
)

func main() {
	userID := flag.String("user", "", "user id (required)")
	name := flag.String("name", "", "display name")
	role := flag.String("role", "member", "role: member, editor, admin, system")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	keyB64 := os.Getenv("AUTH_PRIVATE_KEY")
	if keyB64 == "" {
		fmt.Fprintln(os.Stderr, "AUTH_PRIVATE_KEY is not set; generate a keypair with cmd/genkey")
		os.Exit(1)
	}
	keyBytes, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		fmt.Fprintln(os.Stderr, "AUTH_PRIVATE_KEY is not a base64 Ed25519 private key")
		os.Exit(1)
	}

	token, err := auth.SignToken(ed25519.PrivateKey(keyBytes), auth.TokenClaims{
		UserID:      *userID,
		DisplayName: *name,
		Role:        models.Role(*role),
		ExpiresAt:   time.Now().Add(*ttl).Unix(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "signing failed:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
