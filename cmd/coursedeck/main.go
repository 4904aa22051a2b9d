// Command coursedeck serves HTML courseware from repository sources as a
// paged classroom player.
package main

import (
	"fmt"
	"os"

	"github.com/coursedeck/coursedeck/cmd/coursedeck/commands"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = commands.ServeCommand(args)
	case "validate":
		err = commands.ValidateCommand(args)
	case "check":
		err = commands.CheckCommand(args)
	case "version":
		fmt.Printf("coursedeck version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("coursedeck - HTML courseware player")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coursedeck serve [directory]      Start the player server")
	fmt.Println("  coursedeck validate <file>...     Validate courseware HTML files")
	fmt.Println("  coursedeck check <repo-url>       Inspect a courseware repository")
	fmt.Println("  coursedeck version                Show version")
	fmt.Println("  coursedeck help                   Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  coursedeck serve                          # Serve with ./coursedeck.yaml")
	fmt.Println("  coursedeck serve --port 9000              # Override the listen port")
	fmt.Println("  coursedeck validate lesson.html           # Check pages and metadata")
	fmt.Println("  coursedeck check github/alice/physics     # List groups in a repository")
}
