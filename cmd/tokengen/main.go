// Command tokengen mints a service token for one of the API roles.
package main

import (
	"flag"
	"fmt"
	"log"
	"slices"

	"github.com/go-verify-ledger/internal/config"
	"github.com/go-verify-ledger/internal/domain"
	jwtinfra "github.com/go-verify-ledger/internal/infrastructure/jwt"
	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "", "calling service name, e.g. chat-gateway")
	role := flag.String("role", domain.RoleGateway, "admin, gateway or pipeline")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if *subject == "" {
		log.Fatal("-subject is required")
	}
	if !slices.Contains([]string{domain.RoleAdmin, domain.RoleGateway, domain.RolePipeline}, *role) {
		log.Fatalf("unknown role %q", *role)
	}

	p, err := jwtinfra.NewProvider(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiry)
	if err != nil {
		log.Fatalf("load keys: %v", err)
	}
	token, err := p.Sign(*subject, *role)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(token)
}
