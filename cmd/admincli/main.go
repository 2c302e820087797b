// Package main provides the admin CLI entry point.
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
	app    = kingpin.New("demoday-admincli", "demo day session admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show queue status and active slots")

	// sweep command
	sweepCmd = app.Command("sweep", "Release expired leases and stale waiting requests")

	// release command
	releaseCmd  = app.Command("release", "Force release a slot")
	releaseSlot = releaseCmd.Arg("slot-id", "Slot ID").Required().String()

	// watch command
	watchCmd = app.Command("watch", "Stream session events until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminServiceClient(
		http.DefaultClient,
		*server,
	)

	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		status(ctx, client, *token)
	case sweepCmd.FullCommand():
		sweep(ctx, client, *token)
	case releaseCmd.FullCommand():
		forceRelease(ctx, client, *token, *releaseSlot)
	case watchCmd.FullCommand():
		watchCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		watch(watchCtx, client, *token)
	}
}

func status(ctx context.Context, client *apiconnect.AdminServiceClient, token string) {
	req := connect.NewRequest(&apiconnect.GetStatusRequest{})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	resp, err := client.GetStatus(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	s := resp.Msg
	fmt.Println("\n=== ADMISSION STATUS ===")
	fmt.Printf("Active: %d/%d\n", s.Status.ActiveCount, s.Status.MaxConcurrent)
	fmt.Printf("Waiting: %d\n", s.Status.QueueLength)

	if len(s.ActiveSlots) == 0 {
		fmt.Println("\nNo active slots")
	} else {
		fmt.Println("\nActive Slots:")
		for _, sl := range s.ActiveSlots {
			fmt.Printf("  %s: %s (granted: %s, held: %v)\n",
				sl.SlotID, sl.Type, sl.GrantedAt.Format(time.RFC3339), time.Duration(sl.HeldSeconds)*time.Second)
		}
	}
	fmt.Println()
}

func sweep(ctx context.Context, client *apiconnect.AdminServiceClient, token string) {
	req := connect.NewRequest(&apiconnect.SweepRequest{})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	resp, err := client.Sweep(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Released leases: %d\n", len(resp.Msg.ReleasedLeases))
	for _, id := range resp.Msg.ReleasedLeases {
		fmt.Printf("  %s\n", id)
	}
	fmt.Printf("Swept waiting requests: %d\n", resp.Msg.SweptWaiting)
}

func forceRelease(ctx context.Context, client *apiconnect.AdminServiceClient, token, slotID string) {
	req := connect.NewRequest(&apiconnect.ForceReleaseRequest{SlotID: slotID})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	resp, err := client.ForceRelease(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if resp.Msg.Success {
		fmt.Println("Slot released")
	} else {
		fmt.Printf("Failed: %s\n", resp.Msg.Message)
	}
}

func watch(ctx context.Context, client *apiconnect.AdminServiceClient, token string) {
	req := connect.NewRequest(&apiconnect.WatchEventsRequest{})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	stream, err := client.WatchEvents(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	for stream.Receive() {
		ev := stream.Msg()
		line := fmt.Sprintf("[%s] #%d %s", ev.At.Format(time.TimeOnly), ev.SequenceNo, ev.Kind)
		if ev.SlotID != "" {
			line += fmt.Sprintf(" slot=%s", ev.SlotID)
		}
		if ev.Type != "" {
			line += fmt.Sprintf(" type=%s", ev.Type)
		}
		if ev.Reason != "" {
			line += fmt.Sprintf(" reason=%s", ev.Reason)
		}
		fmt.Printf("%s (active %d/%d, waiting %d)\n",
			line, ev.Status.ActiveCount, ev.Status.MaxConcurrent, ev.Status.QueueLength)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
