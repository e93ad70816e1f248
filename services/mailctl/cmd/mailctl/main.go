package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Mutter0815/MailScheduler/services/mailctl/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.NewRootCommand(cli.DefaultConfig()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
