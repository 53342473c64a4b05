package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/client"
)

func main() {
	baseURL := os.Getenv("CMDGATE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("CMDGATE_API_KEY")
	if apiKey == "" {
		apiKey = "admin-secret-key-123"
	}

	c := client.New(baseURL, apiKey)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	me, err := c.Whoami(ctx)
	if err != nil {
		log.Fatalf("whoami against %s: %v", baseURL, err)
	}
	before := me.Credits

	d, err := c.Submit(ctx, "rm -rf /")
	if err != nil {
		log.Fatalf("submit blocked command: %v", err)
	}
	if d.Status != audit.StatusRejected {
		log.Fatalf("expected REJECTED for rm -rf, got %s", d.Status)
	}

	d, err = c.Submit(ctx, "ls -la")
	if err != nil {
		log.Fatalf("submit allowed command: %v", err)
	}
	if d.Status != audit.StatusExecuted {
		log.Fatalf("expected EXECUTED for ls -la, got %s", d.Status)
	}
	if d.NewBalance == nil || *d.NewBalance != before-1 {
		log.Fatalf("expected balance %d after execution, got %v", before-1, d.NewBalance)
	}

	entries, err := c.Logs(ctx, "", "desc", 2)
	if err != nil {
		log.Fatalf("read audit log: %v", err)
	}
	if len(entries) < 2 {
		log.Fatalf("expected at least 2 audit entries, got %d", len(entries))
	}
	if entries[0].Status != audit.StatusExecuted || entries[1].Status != audit.StatusRejected {
		log.Fatalf("unexpected audit tail: %s, %s", entries[0].Status, entries[1].Status)
	}

	fmt.Printf("✅ gateway smoke test passed: user=%s credits=%d->%d\n", me.Username, before, *d.NewBalance)
}
