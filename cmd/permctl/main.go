package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/plantops/plantops/cmd/permctl/cli"
	permissionsclient "github.com/plantops/plantops/internal/permissions/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr, func(conn cli.Connection, logger *slog.Logger) (cli.API, error) {
		return permissionsclient.New(permissionsclient.Config{
			BaseURL:  conn.URL,
			Email:    conn.Email,
			Password: conn.Password,
			Timeout:  conn.Timeout,
			Logger:   logger,
		})
	})
	stop()
	os.Exit(code)
}
