// Package main provides the user CLI entry point for testing.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/demoday/internal/api/connect"
)

var (
	app    = kingpin.New("demoday-usercli", "demo day session client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	// acquire command
	acquireCmd  = app.Command("acquire", "Acquire a live session and hold it")
	acquireType = acquireCmd.Arg("type", "Session type").Required().Enum("pitch", "feedback")
	acquireHold = acquireCmd.Flag("hold", "How long to hold the session before releasing (0 waits for Ctrl-C)").Default("0s").Duration()

	// release command
	releaseCmd  = app.Command("release", "Release a session slot")
	releaseSlot = releaseCmd.Arg("slot-id", "Slot ID").Required().String()

	// status command
	statusCmd = app.Command("status", "Show the admission queue status")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewSessionServiceClient(
		http.DefaultClient,
		*server,
	)

	ctx := context.Background()

	switch command {
	case acquireCmd.FullCommand():
		acquire(ctx, client, *acquireType, *acquireHold)
	case releaseCmd.FullCommand():
		release(ctx, client, *releaseSlot)
	case statusCmd.FullCommand():
		status(ctx, client)
	}
}

func acquire(ctx context.Context, client *apiconnect.SessionServiceClient, typ string, hold time.Duration) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Requesting %s session (may wait in queue)...\n", typ)
	start := time.Now()
	resp, err := client.Acquire(sigCtx, connect.NewRequest(&apiconnect.AcquireRequest{Type: typ}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeUnavailable {
			fmt.Println("All sessions are busy, try again later")
		} else {
			fmt.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Granted after %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Slot ID: %s\n", resp.Msg.SlotID)
	fmt.Printf("  Agent ID: %s\n", resp.Msg.AgentID)
	fmt.Printf("  Session Token: %s\n", resp.Msg.SessionToken)

	if hold > 0 {
		fmt.Printf("Holding for %v (Ctrl-C to release early)...\n", hold)
		select {
		case <-time.After(hold):
		case <-sigCtx.Done():
		}
	} else {
		fmt.Println("Holding session (Ctrl-C to release)...")
		<-sigCtx.Done()
	}

	// Release with a fresh context since sigCtx may be canceled
	release(context.Background(), client, resp.Msg.SlotID)
}

func release(ctx context.Context, client *apiconnect.SessionServiceClient, slotID string) {
	resp, err := client.Release(ctx, connect.NewRequest(&apiconnect.ReleaseRequest{SlotID: slotID}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if resp.Msg.Success {
		fmt.Printf("Released %s\n", slotID)
	}
}

func status(ctx context.Context, client *apiconnect.SessionServiceClient) {
	resp, err := client.GetQueueStatus(ctx, connect.NewRequest(&apiconnect.GetQueueStatusRequest{}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	s := resp.Msg.Status
	fmt.Printf("Active: %d/%d\n", s.ActiveCount, s.MaxConcurrent)
	fmt.Printf("Waiting: %d\n", s.QueueLength)
}
