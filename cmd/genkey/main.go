// Command genkey generates an Ed25519 keypair for connect-token signing.
// The public half goes into the server's AUTH_PUBLIC_KEY; the private half
// stays with the service that mints tokens.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen failed:", err)
		os.Exit(1)
	}

	fmt.Println("AUTH_PUBLIC_KEY=" + base64.StdEncoding.EncodeToString(pub))
	fmt.Println("AUTH_PRIVATE_KEY=" + base64.StdEncoding.EncodeToString(priv))
}
