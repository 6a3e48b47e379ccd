// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenlearn/entitlement-backend/internal/client"
)

// Demo CLI for exercising the purchase flow against a running backend with
// sandbox receipts. The receipt token is supplied on the command line in
// place of a real billing sheet.

type cliStore struct {
	platform string
	product  string
	token    string
}

func (s *cliStore) Purchase(ctx context.Context, productID string) (*client.Receipt, error) {
	if s.token == "" {
		return nil, client.ErrPurchaseCancelled
	}
	return &client.Receipt{
		Platform:  s.platform,
		ProductID: productID,
		Token:     s.token,
	}, nil
}

func (s *cliStore) Restore(ctx context.Context) ([]client.Receipt, error) {
	if s.token == "" {
		return nil, nil
	}
	return []client.Receipt{{
		Platform:  s.platform,
		ProductID: s.product,
		Token:     s.token,
	}}, nil
}

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "backend base URL")
		session  = flag.String("session", "", "session token")
		platform = flag.String("platform", "android", "ios or android")
		product  = flag.String("product", "premium_single", "product id")
		receipt  = flag.String("receipt", "", "sandbox receipt token")
		dataDir  = flag.String("data", defaultDataDir(), "local state directory")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(
			os.Stderr,
			"usage: client [flags] purchase|restore|status|register-device|accept-invite <token>|logout",
		)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	orch := client.NewOrchestrator(
		&cliStore{platform: *platform, product: *product, token: *receipt},
		client.NewAPI(*baseURL, func(ctx context.Context) (string, error) {
			return *session, nil
		}),
		client.NewSnapshotCache(*dataDir, client.DefaultSnapshotTTL),
		client.NewDeviceIdentity(*dataDir),
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := runCommand(ctx, orch, flag.Arg(0), flag.Arg(1), *product); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runCommand(
	ctx context.Context,
	orch *client.Orchestrator,
	command, arg, product string,
) error {
	switch command {
	case "purchase":
		result, err := orch.Purchase(ctx, product)
		if err != nil {
			return err
		}
		fmt.Printf("outcome=%s plan=%s\n", result.Outcome, result.PlanType)

	case "restore":
		result, err := orch.Restore(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("outcome=%s plan=%s\n", result.Outcome, result.PlanType)

	case "status":
		status, err := orch.Status(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf(
			"premium=%t plan=%s device_match=%t transfer_required=%t\n",
			status.Premium,
			status.PlanType,
			status.DeviceMatch,
			status.RequiresDeviceTransfer,
		)

	case "register-device":
		reg, err := orch.RegisterDevice(ctx)
		if err != nil {
			return err
		}
		fmt.Printf(
			"new_device=%t previous_logged_out=%t\n",
			reg.IsNewDevice,
			reg.PreviousDeviceLoggedOut,
		)

	case "accept-invite":
		if arg == "" {
			return fmt.Errorf("accept-invite needs an invite token")
		}
		membership, err := orch.AcceptInvite(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Printf(
			"group=%s premium=%t plan=%s\n",
			membership.GroupID,
			membership.Premium,
			membership.PlanType,
		)

	case "logout":
		return orch.Logout()

	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".lumenlearn"
	}
	return filepath.Join(dir, "lumenlearn")
}
