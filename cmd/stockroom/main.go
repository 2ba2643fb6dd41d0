package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/stockroom/cmd/stockroom/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"STOCKROOM_DEBUG"`
		Version kong.VersionFlag
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations"`
		Serve   commands.ServeCmd   `cmd:"" help:"Serve the inventory API"`
		Demo    commands.DemoCmd    `cmd:"" help:"Run the inventory scenarios against a store"`
		Token   commands.TokenCmd   `cmd:"" help:"Issue a signed tenant token for local testing"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("stockroom"),
		kong.Description("Tenant-scoped inventory with unit of work persistence."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
