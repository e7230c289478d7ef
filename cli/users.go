// ABOUTME: User CLI commands
// ABOUTME: Account creation and login checks with terminal password prompts
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/openpanel-ng/corestore/db"
	"github.com/openpanel-ng/corestore/models"
)

// promptPassword reads a password twice without echo and checks both entries
// match.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(first), nil
}

// AddUserCommand creates a User object with a hashed password.
func AddUserCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	name := fs.String("name", "", "Login name (required)")
	parent := fs.String("parent", "", "Parent object uuid")
	password := fs.String("password", "", "Password (prompted when omitted)")
	_ = fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	pw := *password
	if pw == "" {
		var err error
		pw, err = promptPassword()
		if err != nil {
			return err
		}
	}

	hash, err := db.HashBcrypt(pw)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	members, err := parseMembers(fs.Args())
	if err != nil {
		return err
	}
	members["password"] = hash

	objectUUID, err := m.CreateObject(*parent, members, db.UserClassName, *name, false, false)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("✓ User created: %s (%s)\n", *name, objectUUID)
	return nil
}

// PasswdCommand changes a user's password.
func PasswdCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("user name is required")
	}
	name := fs.Args()[0]

	objectUUID, err := m.FindObject("", db.UserClassName, "", name)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}

	pw, err := promptPassword()
	if err != nil {
		return err
	}
	hash, err := db.HashBcrypt(pw)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	view, err := m.FetchObject(objectUUID, false)
	if err != nil {
		return fmt.Errorf("failed to fetch user: %w", err)
	}
	members := scrubAnnotations(view.Leaf())
	members["password"] = hash

	if err := m.UpdateObject(members, objectUUID, false, false, false); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	fmt.Printf("✓ Password changed for %s\n", name)
	return nil
}

// LoginCheckCommand verifies credentials against the store.
func LoginCheckCommand(store *db.Store, m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("login-check", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("user name is required")
	}
	name := fs.Args()[0]

	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	probe := db.NewManager(store)
	if err := probe.Login(name, strings.TrimSpace(string(pw))); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	probe.Logout()

	fmt.Printf("✓ Login ok for %s\n", name)
	return nil
}

// scrubAnnotations drops the identity keys a fetch attaches, leaving only
// writable members.
func scrubAnnotations(entry models.Document) models.Document {
	out := entry.Clone()
	for _, key := range []string{"uuid", "id", "metaid", "parentid", "ownerid", "deleted"} {
		delete(out, key)
	}
	return out
}
