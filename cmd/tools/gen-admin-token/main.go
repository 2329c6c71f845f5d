// Command gen-admin-token generates a random operator token for the server's
// --admin-token flag, or checks a candidate token against a stored digest.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"vodforge/internal/auth"
)

const tokenBytes = 32

func main() {
	verifyHash := flag.String("verify", "", "digest to check the --token value against instead of generating")
	token := flag.String("token", "", "candidate token used with --verify")
	flag.Parse()

	if *verifyHash != "" {
		if *token == "" {
			fatalf("--token is required with --verify")
		}
		if err := auth.VerifyToken(*verifyHash, *token); err != nil {
			fatalf("token does not match digest: %v", err)
		}
		fmt.Println("token matches digest")
		return
	}

	generated, err := newToken()
	if err != nil {
		fatalf("generate token: %v", err)
	}
	digest, err := auth.HashToken(generated)
	if err != nil {
		fatalf("hash token: %v", err)
	}

	fmt.Printf("token:  %s\n", generated)
	fmt.Printf("digest: %s\n", digest)
	fmt.Println("Pass the token via --admin-token or VODFORGE_ADMIN_TOKEN; keep the digest if you need to audit it later.")
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
