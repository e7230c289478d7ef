// ABOUTME: Entry point for the corestore admin CLI
// ABOUTME: Routes object, class, user and quota commands to an authenticated store handle
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/openpanel-ng/corestore/cli"
	"github.com/openpanel-ng/corestore/db"
)

const version = "0.2.0"

func main() {
	// Environment overrides, absent file is fine
	_ = godotenv.Load()

	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/corestore/core.db)")
	initOnly := flag.Bool("init", false, "Initialize database and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	user := flag.String("user", "", "Authenticate as this user (default: unrestricted local access)")

	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("corestore version %s\n", version)
		os.Exit(0)
	}

	logger := newLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	store, err := db.Open(getDatabasePath(*dbPath), logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	if *initOnly {
		log.Println("Database initialized successfully")
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	m := db.NewManager(store)
	if *user == "" {
		m.EnableGodMode()
	} else {
		fmt.Print("Password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		if err := m.Login(*user, string(pw)); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
	}
	defer m.Logout()

	command := args[0]
	commandArgs := args[1:]

	switch command {
	// Object commands
	case "create":
		if err := cli.CreateObjectCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "update":
		if err := cli.UpdateObjectCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "delete":
		if err := cli.DeleteObjectCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "fetch":
		if err := cli.FetchObjectCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "list":
		if err := cli.ListObjectsCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "tree":
		if err := cli.TreeCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "chown":
		if err := cli.ChownCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	// Class commands
	case "register-class":
		if err := cli.RegisterClassCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "list-classes":
		if err := cli.ListClassesCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	// User commands
	case "adduser":
		if err := cli.AddUserCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "passwd":
		if err := cli.PasswdCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "login-check":
		if err := cli.LoginCheckCommand(store, m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	// Quota commands
	case "get-quota":
		if err := cli.GetQuotaCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "set-quota":
		if err := cli.SetQuotaCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "special-quota":
		if err := cli.SpecialQuotaCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "set-special-quota":
		if err := cli.SetSpecialQuotaCommand(m, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	return logger
}

func getDatabasePath(dbPath string) string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("CORESTORE_DB"); env != "" {
		return env
	}
	return filepath.Join(xdg.DataHome, "corestore", "core.db")
}

func printUsage() {
	fmt.Printf(`corestore v%s - object and metadata store

USAGE:
  corestore [global flags] <command> [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/corestore/core.db)
  --init                 Initialize database and exit
  --verbose              Enable debug logging
  --user <name>          Authenticate as this user instead of unrestricted access

OBJECT COMMANDS:
  corestore create --class <name> [flags] [key=value ...]
    --parent <uuid>        Parent object
    --id <metaid>          Meta id for the new object
    --check                Run all checks without creating

  corestore update <uuid> [key=value ...]
  corestore delete <uuid>
  corestore fetch [--module] <uuid>
  corestore list [--parent <uuid>] [--classes a,b] [--count n] [--offset n] [--json]
  corestore tree <uuid>          Print subtree uuids, leaves first
  corestore chown <uuid> <owner-uuid>

CLASS COMMANDS:
  corestore register-class <definition.json>
  corestore list-classes

USER COMMANDS:
  corestore adduser --name <login> [--parent <uuid>] [key=value ...]
  corestore passwd <login>
  corestore login-check <login>

QUOTA COMMANDS:
  corestore get-quota [--user <uuid>] <class>
  corestore set-quota --user <uuid> --count <n> <class>
  corestore special-quota [--user <uuid>] [tag ...]
  corestore set-special-quota --user <uuid> --quota <n> [--warning <n>] <tag>

EXAMPLES:
  # Initialize a fresh store
  corestore --init

  # Register a class and create an instance
  corestore register-class domain.json
  corestore create --class Domain --id example.com

  # Create an account below it
  corestore adduser --name jdoe
  corestore set-quota --user <uuid> --count 10 Domain

`, version)
}
