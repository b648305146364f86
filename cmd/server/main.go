package main

import (
	"context"
	"log"

	"github.com/yury-opolev/safeexchange-sub001/internal/server"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg, server.Options{})

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
