package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/checkin/internal/config"
	"github.com/ehr/checkin/internal/platform/db"
	"github.com/ehr/checkin/internal/wizard"
)

// wizardSession opens the machine and driver for one CLI invocation.
// State lives in Redis when REDIS_URL is set, otherwise in a local file.
type wizardSession struct {
	driver *wizard.Driver
	close  func()
}

type wizardFlags struct {
	stateFile string
	session   string
	apiURL    string
}

func openWizard(ctx context.Context, flags *wizardFlags) (*wizardSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var (
		store   wizard.Storage
		closeFn = func() {}
	)
	if cfg.RedisURL != "" {
		client, err := wizard.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		store = wizard.NewRedisStorage(client, flags.session, wizard.DefaultSessionTTL)
		closeFn = func() { _ = client.Close() }
	} else {
		store = wizard.NewFileStorage(flags.stateFile)
	}

	m, err := wizard.Load(ctx, store)
	if err != nil {
		closeFn()
		return nil, err
	}

	apiURL := flags.apiURL
	if apiURL == "" {
		apiURL = cfg.APIURL
	}
	client := wizard.NewClient(apiURL, &http.Client{Timeout: 30 * time.Second})
	return &wizardSession{driver: wizard.NewDriver(m, client), close: closeFn}, nil
}

func wizardCmd() *cobra.Command {
	flags := &wizardFlags{}
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Drive a check-in session against the API",
	}
	cmd.PersistentFlags().StringVar(&flags.stateFile, "state", ".checkin-wizard.json", "Local state file (ignored when REDIS_URL is set)")
	cmd.PersistentFlags().StringVar(&flags.session, "session", "default", "Session name for shared Redis state")
	cmd.PersistentFlags().StringVar(&flags.apiURL, "api", "", "API base URL (defaults to API_URL)")

	// run opens the session, calls fn and closes it.
	run := func(fn func(ctx context.Context, cmd *cobra.Command, d *wizard.Driver, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := openWizard(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()
			return fn(ctx, cmd, s.driver, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current wizard state",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, cmd *cobra.Command, d *wizard.Driver, _ []string) error {
			printState(cmd.OutOrStdout(), d.Machine().State())
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "goto <step>",
		Short: "Move to a step; locked steps redirect to demographics",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, d *wizard.Driver, args []string) error {
			step, err := wizard.ParseStep(args[0])
			if err != nil {
				return err
			}
			landed, err := d.Machine().Navigate(ctx, step)
			if err != nil {
				return err
			}
			if landed != step {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is locked; redirected to %s\n", step, landed)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Now at %s\n", landed)
			return nil
		}),
	})

	var images []string
	submit := &cobra.Command{
		Use:   "submit <step> [field=value ...]",
		Short: "Save fields for a step and submit it",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, d *wizard.Driver, args []string) error {
			step, err := wizard.ParseStep(args[0])
			if err != nil {
				return err
			}
			section, ok := step.Section()
			if !ok {
				return fmt.Errorf("%s is submitted with \"wizard complete\"", step)
			}
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			if err := d.Machine().UpdateSection(ctx, section, values); err != nil {
				return err
			}

			cards, closeCards, err := openImages(images)
			if err != nil {
				return err
			}
			defer closeCards()

			if err := d.Submit(ctx, step, cards...); err != nil {
				printAPIError(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s submitted; now at %s\n", step, d.Machine().Current())
			return nil
		}),
	}
	submit.Flags().StringSliceVar(&images, "image", nil, "Insurance card image to upload (repeatable, max 2)")
	cmd.AddCommand(submit)

	var wait int
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Send the check-in completion",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, d *wizard.Driver, _ []string) error {
			d.WaitMinutes = wait
			res, err := d.Complete(ctx)
			if errors.Is(err, wizard.ErrAlreadyComplete) {
				fmt.Fprintln(cmd.OutOrStdout(), "Check-in already completed for this session")
				return nil
			}
			if err != nil {
				printAPIError(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Check-in complete for %s. Estimated wait: %d minutes.\n",
				res.PatientName, res.EstimatedWaitTime)
			return nil
		}),
	}
	complete.Flags().IntVar(&wait, "wait", 20, "Estimated wait time in minutes")
	cmd.AddCommand(complete)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the session so a new patient can start",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, d *wizard.Driver, _ []string) error {
			if err := d.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
			return nil
		}),
	})

	return cmd
}

// parseAssignments turns "field=value" arguments into a map. Later
// assignments win.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		out[key] = value
	}
	return out, nil
}

func openImages(paths []string) ([]wizard.CardImage, func(), error) {
	var (
		cards []wizard.CardImage
		files []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open card image: %w", err)
		}
		files = append(files, f)
		cards = append(cards, wizard.CardImage{
			Name:        filepath.Base(p),
			ContentType: contentTypeOf(p),
			Content:     f,
		})
	}
	return cards, closeAll, nil
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	return "application/octet-stream"
}

func printState(w io.Writer, st wizard.State) {
	completed := make([]string, 0, len(st.CompletedSteps))
	for _, s := range st.CompletedSteps {
		completed = append(completed, s.String())
	}
	patientID := "-"
	if st.PatientID != 0 {
		patientID = strconv.FormatInt(st.PatientID, 10)
	}

	fmt.Fprintf(w, "Current step: %d (%s)\n", int(st.CurrentStep), st.CurrentStep)
	fmt.Fprintf(w, "Completed:    %s\n", orDash(strings.Join(completed, ", ")))
	fmt.Fprintf(w, "Patient ID:   %s\n", patientID)

	sections := make([]string, 0, len(st.FormData))
	for name := range st.FormData {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		fields := st.FormData[name]
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "[%s]\n", name)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-20s %s\n", k, fields[k])
		}
	}
}

func printAPIError(w io.Writer, err error) {
	var apiErr *wizard.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	fmt.Fprintf(w, "%s (%d %s)\n", apiErr.Message, apiErr.Status, apiErr.Code)
	for _, d := range apiErr.Details {
		fmt.Fprintf(w, "  %s: %s\n", d.Field, d.Message)
	}
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
