package main

import (
	"context"
	"log"
	"os"

	"github.com/shohruhuz/uzbot/internal/app"
	"github.com/shohruhuz/uzbot/internal/buildinfo"
	"github.com/shohruhuz/uzbot/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	a, err := app.NewApp(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}

	a.Run(ctx)
}
