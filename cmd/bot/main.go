package main

import (
	"context"
	"log"

	"github.com/centromex/rental-bot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("rental-bot: %v", err)
	}
}
