package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/technosupport/ts-anpr/internal/tokens"
)

// Issues a bearer token for the gateway query API. Intended for
// operator onboarding and curl debugging.
func main() {
	subject := flag.String("subject", "operator", "Token subject")
	role := flag.String("role", "operator", "Token role")
	ttl := flag.Duration("ttl", 8*time.Hour, "Token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "JWT_SIGNING_KEY not set")
		os.Exit(1)
	}

	mgr := tokens.NewManager(key, *ttl)
	token, err := mgr.Generate(*subject, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
