package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/guard"
)

var (
	asOfFlag   string
	formatFlag string

	displayedFlag guard.Counters
)

var countersCmd = &cobra.Command{
	Use:   "counters <profile>",
	Short: "Print a profile's derived counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runCounters,
}

var guardsCmd = &cobra.Command{
	Use:   "guards <profile>",
	Short: "Print a profile's guard accounts and their free days",
	Args:  cobra.ExactArgs(1),
	RunE:  runGuards,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <profile>",
	Short: "Compare displayed counters with freshly computed ones",
	Long: `Recomputes the counters from days and ledger and compares them with the
values passed as flags. Exits non-zero when they differ.`,
	Example: `  guard-ledger verify alice --accumulated-free 3 --used-free 2 --guards-done 1`,
	Args:    cobra.ExactArgs(1),
	RunE:    runVerify,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [profile]",
	Short: "Reindex every guard account of one profile, or of all profiles",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReconcile,
}

func init() {
	for _, c := range []*cobra.Command{countersCmd, guardsCmd, verifyCmd, reconcileCmd} {
		c.Flags().StringVar(&formatFlag, "format", "table", "Output format: table, json")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{countersCmd, verifyCmd} {
		c.Flags().StringVar(&asOfFlag, "as-of", "", "Reference date (YYYY-MM-DD, default today)")
	}

	f := verifyCmd.Flags()
	f.IntVar(&displayedFlag.AccumulatedFree, "accumulated-free", 0, "Displayed accumulated free days")
	f.IntVar(&displayedFlag.UsedFree, "used-free", 0, "Displayed used free days")
	f.IntVar(&displayedFlag.PersonalLeaveRemaining, "personal-leave", 0, "Displayed personal leave remaining")
	f.IntVar(&displayedFlag.VacationRemaining, "vacation", 0, "Displayed vacation remaining")
	f.IntVar(&displayedFlag.GuardsDone, "guards-done", 0, "Displayed guards done")
	f.IntVar(&displayedFlag.GuardsPlanned, "guards-planned", 0, "Displayed guards planned")
}

func parseAsOf() (generic.TimePoint, error) {
	if asOfFlag == "" {
		return generic.Today(), nil
	}
	return generic.ParseDate(asOfFlag)
}

func runCounters(cmd *cobra.Command, args []string) error {
	asOf, err := parseAsOf()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.engine.Counters(cmd.Context(), generic.ProfileID(args[0]), asOf)
	if err != nil {
		return err
	}
	if isJSON() {
		return outputJSON(cmd.OutOrStdout(), c)
	}
	printCounters(cmd.OutOrStdout(), c)
	return nil
}

func runGuards(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	details, err := a.engine.GuardDetails(cmd.Context(), generic.ProfileID(args[0]))
	if err != nil {
		return err
	}
	if isJSON() {
		return outputJSON(cmd.OutOrStdout(), details)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GUARD\tREF\tENTITLED\tUSED\tREMAINING\tFREE DAYS")
	for _, d := range details {
		days := make([]string, len(d.Debits))
		for i, db := range d.Debits {
			days[i] = db.Ordinal + "=" + db.Date.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", d.Label, d.Ref, d.Entitlement, d.Used, d.Remaining, strings.Join(days, " "))
	}
	return w.Flush()
}

func runVerify(cmd *cobra.Command, args []string) error {
	asOf, err := parseAsOf()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	fresh, ok, err := a.engine.Verify(cmd.Context(), generic.ProfileID(args[0]), displayedFlag, asOf)
	if err != nil {
		return err
	}
	if isJSON() {
		if err := outputJSON(cmd.OutOrStdout(), map[string]any{"consistent": ok, "counters": fresh}); err != nil {
			return err
		}
	} else {
		printCounters(cmd.OutOrStdout(), fresh)
	}
	if !ok {
		return fmt.Errorf("displayed counters differ from the ledger")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var profiles []generic.ProfileID
	if len(args) == 1 {
		profiles = []generic.ProfileID{generic.ProfileID(args[0])}
	} else if profiles, err = a.engine.Profiles(ctx); err != nil {
		return err
	}

	reports := make([]guard.ReconcileReport, 0, len(profiles))
	for _, p := range profiles {
		rep, err := a.engine.Reconcile(ctx, p)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", p, err)
		}
		reports = append(reports, rep)
	}
	if isJSON() {
		return outputJSON(cmd.OutOrStdout(), reports)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tACCOUNTS\tREWRITTEN\tORPHAN DEBITS")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.ProfileID, r.Accounts, r.Rewritten, len(r.OrphanDebits))
	}
	return w.Flush()
}

// =============================================================================
// OUTPUT
// =============================================================================

func isJSON() bool { return strings.EqualFold(formatFlag, "json") }

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCounters(w io.Writer, c guard.Counters) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Accumulated free days\t%d\n", c.AccumulatedFree)
	fmt.Fprintf(tw, "Used free days\t%d\n", c.UsedFree)
	fmt.Fprintf(tw, "Personal leave remaining\t%d\n", c.PersonalLeaveRemaining)
	fmt.Fprintf(tw, "Vacation remaining\t%d\n", c.VacationRemaining)
	fmt.Fprintf(tw, "Guards done\t%d\n", c.GuardsDone)
	fmt.Fprintf(tw, "Guards planned\t%d\n", c.GuardsPlanned)
	tw.Flush()
}
