// Command hatsuka-cli is an interactive console tester for the agent: it
// runs the same orchestration core as the bot, with a console observer in
// place of the Discord transport.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "hatsuka-cli",
	Short:         "Interactive console tester for the agent core",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func readLine(r *bufio.Reader) (string, bool) {
	fmt.Print("> ")
	line, err := r.ReadString('\n')
	if err != nil {
		return "", false
	}
	return line, true
}
