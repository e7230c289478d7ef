// ABOUTME: Object CLI commands
// ABOUTME: Human-friendly commands for creating, inspecting and removing objects
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/openpanel-ng/corestore/db"
	"github.com/openpanel-ng/corestore/models"
)

// parseMembers turns key=value arguments into a document.
func parseMembers(pairs []string) (models.Document, error) {
	members := models.Document{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		members[key] = value
	}
	return members, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// CreateObjectCommand creates a new object from key=value members.
func CreateObjectCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	class := fs.String("class", "", "Class name (required)")
	parent := fs.String("parent", "", "Parent object uuid")
	metaID := fs.String("id", "", "Meta id for the new object")
	check := fs.Bool("check", false, "Run all checks without creating")
	_ = fs.Parse(args)

	if *class == "" {
		return fmt.Errorf("--class is required")
	}

	members, err := parseMembers(fs.Args())
	if err != nil {
		return err
	}

	objectUUID, err := m.CreateObject(*parent, members, *class, *metaID, *check, false)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}

	if *check {
		fmt.Println("✓ All checks passed, object not created")
		return nil
	}
	fmt.Printf("✓ Object created: %s\n", objectUUID)
	if *metaID != "" {
		fmt.Printf("  Id: %s\n", *metaID)
	}
	return nil
}

// UpdateObjectCommand replaces an object's members.
func UpdateObjectCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("object uuid is required")
	}
	objectUUID := fs.Args()[0]

	members, err := parseMembers(fs.Args()[1:])
	if err != nil {
		return err
	}

	if err := m.UpdateObject(members, objectUUID, false, false, false); err != nil {
		return fmt.Errorf("failed to update object: %w", err)
	}

	fmt.Printf("✓ Object updated: %s\n", objectUUID)
	return nil
}

// DeleteObjectCommand deletes an object.
func DeleteObjectCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("object uuid is required")
	}
	objectUUID := fs.Args()[0]

	if err := m.DeleteObject(objectUUID, false, false); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	fmt.Printf("✓ Object deleted: %s\n", objectUUID)
	return nil
}

// FetchObjectCommand fetches one object as a flattened JSON document.
func FetchObjectCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	forModule := fs.Bool("module", false, "Fetch with reference resolution, as a module would")
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("object uuid is required")
	}
	objectUUID := fs.Args()[0]

	view, err := m.FetchObject(objectUUID, *forModule)
	if err != nil {
		return fmt.Errorf("failed to fetch object: %w", err)
	}
	return printJSON(view.Classes)
}

// ListObjectsCommand lists objects grouped by class.
func ListObjectsCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	parent := fs.String("parent", "", "Parent object uuid")
	classes := fs.String("classes", "", "Comma-separated class filter")
	count := fs.Int("count", -1, "Maximum results per page")
	offset := fs.Int("offset", 0, "Result offset")
	asJSON := fs.Bool("json", false, "Print the raw grouped document")
	_ = fs.Parse(args)

	q := db.ListQuery{
		ParentUUID: *parent,
		Count:      *count,
		Offset:     *offset,
	}
	if *classes != "" {
		q.Classes = strings.Split(*classes, ",")
	}

	listing, err := m.ListObjects(q)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	if *asJSON {
		return printJSON(listing)
	}

	if len(listing) == 0 {
		fmt.Println("No objects found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLASS\tID\tUUID")
	_, _ = fmt.Fprintln(w, "-----\t--\t----")

	total := 0
	for className, group := range listing {
		entries, ok := group.(models.Document)
		if !ok {
			continue
		}
		for id, e := range entries {
			entry, ok := e.(models.Document)
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", className, id, entry.String("uuid"))
			total++
		}
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d object(s)\n", total)
	return nil
}

// TreeCommand prints the dependency order of an object's subtree, leaves
// first.
func TreeCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("object uuid is required")
	}
	objectUUID := fs.Args()[0]

	uuids, err := m.ListObjectTree(objectUUID)
	if err != nil {
		return fmt.Errorf("failed to walk object tree: %w", err)
	}

	for _, u := range uuids {
		fmt.Println(u)
	}
	return nil
}

// ChownCommand reassigns ownership of a childless root-level object.
func ChownCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("chown", flag.ExitOnError)
	_ = fs.Parse(args)

	if len(fs.Args()) < 2 {
		return fmt.Errorf("object uuid and new owner uuid are required")
	}
	objectUUID := fs.Args()[0]
	ownerUUID := fs.Args()[1]

	if err := m.Chown(objectUUID, ownerUUID); err != nil {
		return fmt.Errorf("failed to change owner: %w", err)
	}

	fmt.Printf("✓ Owner changed: %s -> %s\n", objectUUID, ownerUUID)
	return nil
}
