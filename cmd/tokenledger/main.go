package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sabihub/tokenledger/internal/config"
	"github.com/sabihub/tokenledger/internal/migration"
	"github.com/sabihub/tokenledger/internal/server"
	"github.com/sabihub/tokenledger/pkg/db"
	"github.com/sabihub/tokenledger/pkg/log"
	"github.com/sabihub/tokenledger/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		// HTTP server and the token domain it wires in
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
