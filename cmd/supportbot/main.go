package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "supportbot",
		Short: "Tritika support bot: menu, price lists, manager handoff, GigaChat replies",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the health-check server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
