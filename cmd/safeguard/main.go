package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyderomar92-ai/safeguard/internal/lifecycle"
	"github.com/hyderomar92-ai/safeguard/internal/llm"
)

// Exit codes.
const (
	exitCodeInternal  = 1
	exitCodeBadInput  = 3
	exitCodeGateway   = 4
	exitCodeBadOutput = 5
	exitCodeNotFound  = 6
	exitCodeInvariant = 7
)

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badInput(err error) error {
	return &exitError{code: exitCodeBadInput, err: err}
}

// classify maps engine errors onto exit codes. Errors that already carry a
// code keep it.
func classify(err error) *exitError {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee
	}
	code := exitCodeInternal
	switch {
	case errors.Is(err, lifecycle.ErrValidation), errors.Is(err, llm.ErrEmptyRequest):
		code = exitCodeBadInput
	case errors.Is(err, lifecycle.ErrNotFound):
		code = exitCodeNotFound
	case errors.Is(err, lifecycle.ErrInvariantViolation):
		code = exitCodeInvariant
	case errors.Is(err, llm.ErrInvalidModelOutput):
		code = exitCodeBadOutput
	case errors.Is(err, llm.ErrGateway):
		code = exitCodeGateway
	}
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		ee := classify(err)
		fmt.Fprintln(os.Stderr, "error:", ee)
		os.Exit(ee.code)
	}
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	root := &cobra.Command{
		Use:           "safeguard",
		Short:         "Safeguarding case lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.configPath, "config", "", "config file (default $CONFIG_PATH or ./safeguard.yaml)")
	root.PersistentFlags().StringVar(&gf.actor, "actor", "", "acting identity recorded on cases and audit entries (default session.actor)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return badInput(err)
	})

	root.AddCommand(
		newCreateCaseCmd(gf),
		newUpdateCaseCmd(gf),
		newRegenerateCmd(gf),
		newSetStatusCmd(gf),
		newToggleStepCmd(gf),
		newSaveResolutionNotesCmd(gf),
		newDeleteCaseCmd(gf),
		newListCasesCmd(gf),
		newShowCaseCmd(gf),
		newRedactCmd(gf),
		newEvidenceCmd(gf),
		newAuditCmd(gf),
		newReviewCmd(gf),
	)
	return root
}

// exactArgs is cobra.ExactArgs with a bad-input exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return badInput(err)
		}
		return nil
	}
}
