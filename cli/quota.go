// ABOUTME: Quota CLI commands
// ABOUTME: Class quota and tagged special quota management
package cli

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/openpanel-ng/corestore/db"
)

// GetQuotaCommand shows the effective class quota and usage for a user.
func GetQuotaCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("get-quota", flag.ExitOnError)
	user := fs.String("user", "", "User object uuid (default: yourself)")
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("class name is required")
	}
	className := fs.Args()[0]

	limit, usage, err := m.GetUserQuota(className, *user)
	if err != nil {
		return fmt.Errorf("failed to get quota: %w", err)
	}

	if limit == db.Unlimited {
		fmt.Printf("%s: %d used, unlimited\n", className, usage)
	} else {
		fmt.Printf("%s: %d used of %d\n", className, usage, limit)
	}
	return nil
}

// SetQuotaCommand sets the class quota of a user.
func SetQuotaCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("set-quota", flag.ExitOnError)
	user := fs.String("user", "", "User object uuid (required)")
	count := fs.Int("count", db.Unlimited, "Object allowance, -1 for unlimited")
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("class name is required")
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	className := fs.Args()[0]

	if err := m.SetUserQuota(className, *count, *user); err != nil {
		return fmt.Errorf("failed to set quota: %w", err)
	}

	fmt.Printf("✓ Quota set: %s = %d for %s\n", className, *count, *user)
	return nil
}

// SpecialQuotaCommand shows one tag, or all known tags, for a user.
func SpecialQuotaCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("special-quota", flag.ExitOnError)
	user := fs.String("user", "", "User object uuid (default: yourself)")
	_ = fs.Parse(args)

	tags := fs.Args()
	if len(tags) == 0 {
		var err error
		tags, err = m.ListSpecialQuota()
		if err != nil {
			return fmt.Errorf("failed to list quota tags: %w", err)
		}
	}
	if len(tags) == 0 {
		fmt.Println("No special quota defined")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TAG\tQUOTA\tWARNING\tUSAGE")
	_, _ = fmt.Fprintln(w, "---\t-----\t-------\t-----")

	for _, tag := range tags {
		quota, err := m.GetSpecialQuota(tag, *user)
		if err != nil {
			return fmt.Errorf("failed to get quota for %s: %w", tag, err)
		}
		warning, err := m.GetSpecialQuotaWarning(tag, *user)
		if err != nil {
			return fmt.Errorf("failed to get warning level for %s: %w", tag, err)
		}
		usage, err := m.GetSpecialQuotaUsage(tag, *user)
		if err != nil {
			return fmt.Errorf("failed to get usage for %s: %w", tag, err)
		}

		quotaStr := fmt.Sprintf("%d", quota)
		if quota == db.Unlimited {
			quotaStr = "unlimited"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", tag, quotaStr, warning, usage)
	}
	_ = w.Flush()
	return nil
}

// SetSpecialQuotaCommand assigns a tagged allowance to a user and prints the
// recomputed physical limits along the owner chain.
func SetSpecialQuotaCommand(m *db.Manager, args []string) error {
	fs := flag.NewFlagSet("set-special-quota", flag.ExitOnError)
	user := fs.String("user", "", "User object uuid (required)")
	quota := fs.Int("quota", 0, "Allowance for the tag")
	warning := fs.Int("warning", 0, "Warning level, 0 for none")
	_ = fs.Parse(args)

	if len(fs.Args()) < 1 {
		return fmt.Errorf("quota tag is required")
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	tag := fs.Args()[0]

	phys, err := m.SetSpecialQuota(tag, *user, *quota, *warning)
	if err != nil {
		return fmt.Errorf("failed to set quota: %w", err)
	}

	fmt.Printf("✓ Quota set: %s = %d\n", tag, *quota)
	if len(phys) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "USER\tPHYSICAL")
		_, _ = fmt.Fprintln(w, "----\t--------")
		for id, limit := range phys {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", id, limit)
		}
		_ = w.Flush()
	}
	return nil
}
