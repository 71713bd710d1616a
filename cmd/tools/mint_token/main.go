// mint_token signs a tenant JWT for calling the engine API.
//
// Usage:
//
//	mint_token -tenant tenant-1 -secret $JWT_SECRET -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id (sub claim)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *tenant == "" {
		log.Fatal("missing -tenant")
	}
	if *secret == "" {
		log.Fatal("missing -secret (or JWT_SECRET)")
	}

	now := time.Now()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": *tenant,
		"iat": now.Unix(),
		"exp": now.Add(*ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(signed)
}
