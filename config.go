package main

import (
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	authz "github.com/Rocket-Rescue-Node/credential-ledger/models/authorization"
)

// Application configuration.
type config struct {
	ListenAddr     string
	GRPCAddr       string
	DBPath         string
	GenesisIssuers []models.AccountID
	RevokePolicy   authz.RevokePolicy
	VerifyPolicy   authz.VerifyPolicy
	RequestMaxAge  time.Duration
	AllowedOrigins []string
	Debug          bool
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Parse command-line arguments.
// Returns a config struct with the parsed arguments.
func parseArguments(args []string) (config, error) {
	fs := flag.NewFlagSet("credential-ledger", flag.ContinueOnError)
	addr := fs.String("addr", "0.0.0.0:8080", "Address on which to listen to HTTP requests")
	grpcAddr := fs.String("grpc-addr", "0.0.0.0:8081", "Address on which to serve the gRPC health service")
	dbPath := fs.String("db-path", "db.sqlite3", "sqlite3 database path")
	genesis := fs.String("genesis-issuers", "", "Comma-separated list of addresses seeded as issuers on startup")
	revokePolicy := fs.String("revoke-policy", "any", "Who may revoke a credential: 'any' issuer or only the 'issuer' who issued it")
	verifyPolicy := fs.String("verify-policy", "open", "Who may verify a credential: 'open' to anyone or 'issuer' for issuers only")
	requestMaxAge := fs.String("request-max-age", "15m", "The maximum age of a signed request, eg, 15m")
	allowedOrigins := fs.String("allowed-origins", "*", "Comma-separated list of origins allowed to make cross-origin requests")
	debug := fs.Bool("debug", false, "Whether to enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if _, _, err := net.SplitHostPort(*addr); err != nil {
		return config{}, fmt.Errorf("invalid -addr argument: %v", err)
	}

	if _, _, err := net.SplitHostPort(*grpcAddr); err != nil {
		return config{}, fmt.Errorf("invalid -grpc-addr argument: %v", err)
	}

	issuers := []models.AccountID{}
	for _, s := range splitList(*genesis) {
		account, err := models.ParseAccountID(s)
		if err != nil {
			return config{}, fmt.Errorf("invalid -genesis-issuers argument: %v", err)
		}
		issuers = append(issuers, account)
	}

	revoke, err := authz.ParseRevokePolicy(*revokePolicy)
	if err != nil {
		return config{}, fmt.Errorf("invalid -revoke-policy argument: %v", err)
	}

	verify, err := authz.ParseVerifyPolicy(*verifyPolicy)
	if err != nil {
		return config{}, fmt.Errorf("invalid -verify-policy argument: %v", err)
	}

	maxAge, err := time.ParseDuration(*requestMaxAge)
	if err != nil {
		return config{}, fmt.Errorf("invalid -request-max-age argument: %v", err)
	}
	if maxAge <= 0 {
		return config{}, fmt.Errorf("invalid -request-max-age argument: must be positive")
	}

	return config{
		ListenAddr:     *addr,
		GRPCAddr:       *grpcAddr,
		DBPath:         *dbPath,
		GenesisIssuers: issuers,
		RevokePolicy:   revoke,
		VerifyPolicy:   verify,
		RequestMaxAge:  maxAge,
		AllowedOrigins: splitList(*allowedOrigins),
		Debug:          *debug,
	}, nil
}
