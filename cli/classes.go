// ABOUTME: Class registry CLI commands
// ABOUTME: Registers class definitions and lists the registered schema
package cli

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/openpanel-ng/corestore/db"
	"github.com/openpanel-ng/corestore/models"
)

// RegisterClassCommand registers or upgrades a class from a JSON definition
// file.
func RegisterClassCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("register-class", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("definition file is required")
	}
	path := fs.Args()[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read definition: %w", err)
	}

	def, err := models.ParseClassDefinition(data)
	if err != nil {
		return fmt.Errorf("invalid class definition: %w", err)
	}

	if err := m.RegisterClass(def); err != nil {
		return fmt.Errorf("failed to register class: %w", err)
	}

	fmt.Printf("✓ Class registered: %s v%d (%s)\n", def.Name, def.Version, def.UUID)
	return nil
}

// ListClassesCommand lists all registered classes.
func ListClassesCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("list-classes", flag.ExitOnError)
	_ = fs.Parse(args)

	listing, err := m.ListObjects(db.ListQuery{Classes: []string{"Class"}, ForModule: false})
	if err != nil {
		return fmt.Errorf("failed to list classes: %w", err)
	}

	group, ok := listing["Class"].(models.Document)
	if !ok || len(group) == 0 {
		fmt.Println("No classes registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tMODULE\tUUID")
	_, _ = fmt.Fprintln(w, "----\t-------\t------\t----")

	for name, e := range group {
		entry, ok := e.(models.Document)
		if !ok {
			continue
		}
		module := entry.String("modulename")
		if module == "" {
			module = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%v\t%s\t%s\n",
			name, entry["version"], module, entry.String("uuid"))
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d class(es)\n", len(group))
	return nil
}
