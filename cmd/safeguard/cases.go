package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyderomar92-ai/safeguard/internal/correlate"
	"github.com/hyderomar92-ai/safeguard/internal/lifecycle"
	"github.com/hyderomar92-ai/safeguard/internal/llm"
	"github.com/hyderomar92-ai/safeguard/internal/render"
	"github.com/hyderomar92-ai/safeguard/internal/schema"
)

const dateLayout = "2006-01-02"

// withApp opens the engine, runs fn and closes the engine.
func withApp(cmd *cobra.Command, gf *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, gf)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, badInput(fmt.Errorf("--date %q: want YYYY-MM-DD", s))
	}
	return t, nil
}

func writeCase(w io.Writer, c *schema.Case) error {
	b, err := render.RenderJSON(render.NewCaseView(c, false))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

type createFlags struct {
	student        string
	description    string
	incidentType   string
	date           string
	class          string
	confidential   bool
	status         string
	evidenceFilter string
	logIDs         []string
}

func newCreateCaseCmd(gf *globalFlags) *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create-case",
		Short: "Generate a report for an incident and open a case",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := runCreateCase(ctx, a, f)
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.student, "student", "", "student full name (required)")
	fl.StringVar(&f.description, "description", "", "incident description (required)")
	fl.StringVar(&f.incidentType, "type", "", "incident type, e.g. bullying")
	fl.StringVar(&f.date, "date", "", "incident date YYYY-MM-DD (default today)")
	fl.StringVar(&f.class, "class", "", "class name (default from roster)")
	fl.BoolVar(&f.confidential, "confidential", false, "mark the case confidential")
	fl.StringVar(&f.status, "status", "", "initial status: Open, Investigating or Closed (default Open)")
	fl.StringVar(&f.evidenceFilter, "evidence-filter", "all", "meeting logs offered as evidence: all or concerns")
	fl.StringSliceVar(&f.logIDs, "log-ids", nil, "use exactly these meeting log ids as evidence")
	return cmd
}

func runCreateCase(ctx context.Context, a *app, f createFlags) (*schema.Case, error) {
	date, err := parseDate(f.date)
	if err != nil {
		return nil, err
	}
	filter, err := correlate.ParseFilter(f.evidenceFilter)
	if err != nil {
		return nil, badInput(err)
	}

	var evidence []schema.InteractionRecord
	if len(f.logIDs) > 0 {
		evidence = correlate.ByIDs(a.roster.Meetings, f.logIDs)
	} else {
		evidence = correlate.Select(f.student, a.roster.Meetings, filter)
	}

	class := f.class
	if class == "" {
		if s, ok := a.roster.Student(f.student); ok {
			class = s.ClassName
		}
	}

	report, err := a.gateway.Generate(ctx, llm.Request{
		StudentName: f.student,
		Description: f.description,
		Evidence:    evidence,
	})
	if err != nil {
		a.log.WithError(err).WithField("category", llm.Classify(err)).Error("report generation failed")
		return nil, err
	}

	return a.svc.Create(ctx, a.session, evidence, report, lifecycle.Form{
		StudentName:    f.student,
		ClassName:      class,
		Date:           date,
		IncidentType:   f.incidentType,
		RawDescription: f.description,
		IsConfidential: f.confidential,
		Status:         schema.Status(f.status),
	})
}

func newUpdateCaseCmd(gf *globalFlags) *cobra.Command {
	var (
		incidentType, description, date, class string
		confidential                           bool
	)
	cmd := &cobra.Command{
		Use:   "update-case <id>",
		Short: "Edit case details; fields not given are left unchanged",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				prev, err := a.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				in := &schema.Case{
					ID:             prev.ID,
					ClassName:      class,
					Date:           d,
					IncidentType:   incidentType,
					RawDescription: description,
					IsConfidential: prev.IsConfidential,
				}
				if cmd.Flags().Changed("confidential") {
					in.IsConfidential = confidential
				}
				c, err := a.svc.Update(ctx, a.session, in)
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&incidentType, "type", "", "incident type")
	fl.StringVar(&description, "description", "", "incident description")
	fl.StringVar(&date, "date", "", "incident date YYYY-MM-DD")
	fl.StringVar(&class, "class", "", "class name")
	fl.BoolVar(&confidential, "confidential", false, "mark the case confidential")
	return cmd
}

func newRegenerateCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Regenerate the case report from its description and related logs",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := a.gateway.Generate(ctx, llm.Request{
					StudentName: c.StudentName,
					Description: c.RawDescription,
					Evidence:    correlate.ByIDs(a.roster.Meetings, c.RelatedLogIDs),
				})
				if err != nil {
					a.log.WithError(err).WithField("category", llm.Classify(err)).Error("report regeneration failed")
					return err
				}
				c, err = a.svc.Regenerate(ctx, a.session, c.ID, report)
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
}

func newSetStatusCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a case to Open, Investigating or Closed",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.SetStatus(ctx, a.session, args[0], schema.Status(args[1]))
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
}

func newToggleStepCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-step <id> <step>",
		Short: "Mark a next step completed, or not completed if it already is",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.ToggleActionStep(ctx, a.session, args[0], args[1])
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
}

func newSaveResolutionNotesCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "save-resolution-notes <id> <text>",
		Short: "Replace the case's resolution notes",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				c, err := a.svc.SaveResolutionNotes(ctx, a.session, args[0], args[1])
				if err != nil {
					return err
				}
				return writeCase(cmd.OutOrStdout(), c)
			})
		},
	}
}

func newDeleteCaseCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-case <id>",
		Short: "Permanently delete a case",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app) error {
				if err := a.svc.Delete(ctx, a.session, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}
