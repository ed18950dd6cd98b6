package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/locks"
	"github.com/syncboard/syncboard/internal/ui"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: "locks",
	Short:   "Exclusive project editing leases",
	Long: `Acquire, release, and inspect time-bound editing locks on projects.

At most one user can hold an active lock per project; the remote store is
the authority on races. Locks expire on their own, and a repeat acquire by
the holder extends the lease instead of failing.`,
}

var (
	lockFor    string
	lockUntil  string
	lockReason string
)

// parseLease turns --for / --until into a lease duration. Both accept
// natural language ("4 hours", "tomorrow 9am").
func parseLease(now time.Time) (time.Duration, error) {
	if lockFor == "" && lockUntil == "" {
		return 0, nil // manager default
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	text := lockUntil
	if lockFor != "" {
		text = "in " + lockFor
	}
	r, err := w.Parse(text, now)
	if err != nil {
		return 0, fmt.Errorf("failed to parse lease %q: %w", text, err)
	}
	if r == nil {
		return 0, fmt.Errorf("could not understand lease %q", text)
	}
	d := r.Time.Sub(now)
	if d <= 0 {
		return 0, fmt.Errorf("lease %q is in the past", text)
	}
	return d, nil
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <project-id>",
	Short: "Lock a project for exclusive editing",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		duration, err := parseLease(time.Now())
		if err != nil {
			fail(err)
		}
		if duration == 0 {
			duration = a.cfg.DefaultLease()
		}

		if err := a.locks.Refresh(cmd.Context()); err != nil {
			fail(err)
		}
		lock, err := a.locks.Lock(cmd.Context(), args[0], lockReason, duration)
		if err != nil {
			if errors.Is(err, locks.ErrProjectLocked) {
				fmt.Printf("%s %v\n", ui.RenderErr(ui.GlyphFail), err)
				return
			}
			fail(err)
		}
		fmt.Printf("%s Locked project %s until %s\n", ui.RenderPass(ui.GlyphPass),
			lock.ProjectID, lock.ExpiresAt.Local().Format("2006-01-02 15:04"))
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <project-id>",
	Short: "Release your lock on a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		if err := a.locks.Unlock(cmd.Context(), args[0]); err != nil {
			fail(err)
		}
		fmt.Printf("%s Released lock on project %s\n", ui.RenderPass(ui.GlyphPass), args[0])
	},
}

var lockExtendCmd = &cobra.Command{
	Use:   "extend <project-id>",
	Short: "Extend your lease on a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		extension, err := parseLease(time.Now())
		if err != nil {
			fail(err)
		}

		if err := a.locks.Refresh(cmd.Context()); err != nil {
			fail(err)
		}
		err = a.locks.Extend(cmd.Context(), args[0], extension)
		if errors.Is(err, locks.ErrNotOwner) {
			fmt.Printf("%s You hold no active lock on project %s\n", ui.RenderErr(ui.GlyphFail), args[0])
			return
		}
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s Lease extended on project %s\n", ui.RenderPass(ui.GlyphPass), args[0])
	},
}

var lockAdminClearCmd = &cobra.Command{
	Use:   "admin-clear <project-id>",
	Short: "Force-clear any lock on a project (admin)",
	Long: `Deactivate the active lock on a project regardless of owner.

Authorization is checked by the remote store, not the client.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		ok, err := a.locks.AdminUnlock(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if !ok {
			fmt.Printf("%s Not authorized, or no lock to clear\n", ui.RenderWarn(ui.GlyphWarn))
			return
		}
		fmt.Printf("%s Cleared lock on project %s\n", ui.RenderPass(ui.GlyphPass), args[0])
	},
}

var lockListMine bool

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active locks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		if err := a.locks.Refresh(cmd.Context()); err != nil {
			fail(err)
		}
		active := a.locks.ActiveLocks()
		if lockListMine {
			active = a.locks.UserLocks(a.cfg.User.ID)
		}
		if len(active) == 0 {
			fmt.Printf("%s No active locks\n", ui.RenderPass(ui.GlyphPass))
			return
		}
		sort.Slice(active, func(i, j int) bool { return active[i].ExpiresAt.Before(active[j].ExpiresAt) })

		fmt.Printf("\n%s Active locks\n\n", ui.RenderAccent(ui.GlyphDot))
		for _, l := range active {
			holder := l.LockedByName
			if l.OwnedBy(a.cfg.User.ID) {
				holder = "you"
			}
			fmt.Printf("   %s  held by %s until %s", l.ProjectID, holder,
				l.ExpiresAt.Local().Format("2006-01-02 15:04"))
			if l.Reason != "" {
				fmt.Printf("  (%s)", ui.RenderMuted(l.Reason))
			}
			fmt.Println()
		}
		fmt.Println()
	},
}

func init() {
	lockAcquireCmd.Flags().StringVar(&lockFor, "for", "", "lease length, e.g. \"4 hours\"")
	lockAcquireCmd.Flags().StringVar(&lockUntil, "until", "", "lease end, e.g. \"tomorrow 9am\"")
	lockAcquireCmd.Flags().StringVar(&lockReason, "reason", "", "why the project is locked")
	lockExtendCmd.Flags().StringVar(&lockFor, "for", "", "extension length, e.g. \"90 minutes\"")
	lockListCmd.Flags().BoolVar(&lockListMine, "mine", false, "only locks you hold")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockExtendCmd)
	lockCmd.AddCommand(lockAdminClearCmd)
	lockCmd.AddCommand(lockListCmd)
	rootCmd.AddCommand(lockCmd)
}
