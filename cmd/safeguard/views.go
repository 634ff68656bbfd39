package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hyderomar92-ai/safeguard/internal/audit"
	"github.com/hyderomar92-ai/safeguard/internal/correlate"
	"github.com/hyderomar92-ai/safeguard/internal/redact"
	"github.com/hyderomar92-ai/safeguard/internal/render"
	"github.com/hyderomar92-ai/safeguard/internal/review"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
	"github.com/hyderomar92-ai/safeguard/internal/store"
)

func writeJSON(w io.Writer, v any) error {
	b, err := render.RenderJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newListCasesCmd(gf *globalFlags) *cobra.Command {
	var (
		f      store.Filter
		status string
		format string
	)
	cmd := &cobra.Command{
		Use:   "list-cases",
		Short: "List cases, most recently updated first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, err := schema.ParseStatus(status)
				if err != nil {
					return badInput(err)
				}
				f.Status = st
			}
			if format != "table" && format != "json" {
				return badInput(fmt.Errorf("--format %q: want table or json", format))
			}
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				cs, err := a.svc.List(ctx, f)
				if err != nil {
					return err
				}
				if format == "json" {
					views := make([]render.CaseView, len(cs))
					for i, c := range cs {
						views[i] = render.NewCaseView(c, false)
					}
					return writeJSON(cmd.OutOrStdout(), views)
				}
				return render.RenderTable(cmd.OutOrStdout(), cs)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&status, "status", "", "only cases with this status")
	fl.StringVar(&f.IncidentType, "type", "", "only cases of this incident type")
	fl.StringVar(&f.Author, "author", "", "only cases created by this actor")
	fl.StringVar(&f.Search, "search", "", "substring of student, description, type or summary")
	fl.StringVar(&f.ClassName, "class", "", "only cases for this class")
	fl.StringVar(&f.StudentName, "student", "", "only cases for this student")
	fl.StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newShowCaseCmd(gf *globalFlags) *cobra.Command {
	var (
		format   string
		redacted bool
	)
	cmd := &cobra.Command{
		Use:   "show-case <id>",
		Short: "Print a case with its risk score and resolution progress",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "markdown" && format != "json" {
				return badInput(fmt.Errorf("--format %q: want markdown or json", format))
			}
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if redacted {
					c = redact.New(c.StudentName, a.roster.Names()).Case(c)
				}
				v := render.NewCaseView(c, redacted)
				if format == "json" {
					return writeJSON(cmd.OutOrStdout(), v)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), render.RenderMarkdown(v))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown or json")
	cmd.Flags().BoolVar(&redacted, "redact", false, "redact other students' names")
	return cmd
}

func newRedactCmd(gf *globalFlags) *cobra.Command {
	var on, off bool
	cmd := &cobra.Command{
		Use:   "redact <caseId>",
		Short: "Print the case sheet with other students' names redacted (--off shows it unredacted)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on && off {
				return badInput(fmt.Errorf("--on and --off are mutually exclusive"))
			}
			enabled := !off
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if enabled {
					r := redact.New(c.StudentName, a.roster.Names())
					n := len(r.Matches(c.RawDescription)) + len(r.Matches(c.GeneratedReport.DSLSummary))
					a.log.WithField("case_id", c.ID).WithField("matches", n).Debug("redacting case")
					c = r.Case(c)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), render.RenderMarkdown(render.NewCaseView(c, enabled)))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "redact (default)")
	cmd.Flags().BoolVar(&off, "off", false, "do not redact")
	return cmd
}

func newEvidenceCmd(gf *globalFlags) *cobra.Command {
	var concernsOnly bool
	cmd := &cobra.Command{
		Use:   "evidence <student>",
		Short: "List the meeting logs a student attended, newest first",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := correlate.FilterAll
			if concernsOnly {
				filter = correlate.FilterConcernsOnly
			}
			return withApp(cmd, gf, func(_ context.Context, a *app) error {
				records := correlate.Select(args[0], a.roster.Meetings, filter)
				_, err := io.WriteString(cmd.OutOrStdout(), render.RenderEvidence(args[0], records))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&concernsOnly, "concerns-only", false, "only meetings recorded as Concerned")
	return cmd
}

func newAuditCmd(gf *globalFlags) *cobra.Command {
	var (
		f      audit.Filter
		action string
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audit entries, oldest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Action = audit.Action(action)
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				if verify {
					if err := a.audit.Verify(ctx); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "audit chain verified")
					return err
				}
				entries, err := a.audit.Query(ctx, f)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []*audit.Entry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.CaseID, "case", "", "only entries for this case id")
	fl.StringVar(&f.Actor, "by", "", "only entries by this actor")
	fl.StringVar(&action, "action", "", "only entries with this action, e.g. case.set_status")
	fl.IntVar(&f.MaxResults, "limit", 0, "maximum entries (0 for all)")
	fl.BoolVar(&verify, "verify", false, "verify the hash chain instead of listing entries")
	return cmd
}

func newReviewCmd(gf *globalFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run the stale-case review sweep on its schedule until interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				sw := review.New(a.svc, a.notifier, review.Config{
					Schedule:   a.cfg.Review.Schedule,
					StaleDays:  a.cfg.Review.StaleDays,
					AlertScore: a.cfg.Review.AlertScore,
					Roster:     a.roster.Names(),
				}, a.log)
				if once {
					findings, err := sw.RunOnce(ctx)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), findings)
				}
				if err := sw.Start(); err != nil {
					return badInput(err)
				}
				<-ctx.Done()
				sw.Stop()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and print the stale cases")
	return cmd
}
