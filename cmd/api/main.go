package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/joshnel2/aidisputeapp/db"
	"github.com/joshnel2/aidisputeapp/identity"
	"github.com/joshnel2/aidisputeapp/ledger"
	"github.com/joshnel2/aidisputeapp/session"
	"github.com/joshnel2/aidisputeapp/stripe"
	"github.com/joshnel2/aidisputeapp/twilio"
	"github.com/joshnel2/aidisputeapp/verification"
	"github.com/joshnel2/aidisputeapp/workflow"
	"github.com/joshnel2/aidisputeapp/xai"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	sessions := session.NewManager(jwtSecret)
	accounts := identity.NewStore(pool)
	codes := verification.NewCodeRepository(pool)
	sender := twilio.NewClient(os.Getenv("TWILIO_SID"), os.Getenv("TWILIO_TOKEN"), os.Getenv("TWILIO_PHONE"))
	gateway := stripe.NewClient(os.Getenv("STRIPE_SECRET_KEY"))
	arbiter := xai.NewClient(os.Getenv("GROK_API_KEY"))

	disputes := ledger.NewRepository(pool)
	verifier := verification.NewService(accounts, codes, sender, sessions)
	engine := workflow.NewService(pool, disputes, gateway, arbiter)

	server := &Server{
		verification: verifier,
		workflow:     engine,
		sessions:     sessions,
	}

	addr := ":" + os.Getenv("PORT")
	if addr == ":" {
		addr = ":8080"
	}

	log.Printf("dispute api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
