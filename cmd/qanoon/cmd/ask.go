package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/pkg/qanoon"
)

type askOptions struct {
	k        int
	language string
	noWarm   bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a legal question from the indexed corpus",
		Long: `Ask retrieves the most relevant passages, sends them with the question to
the language model, and streams the answer to stdout as it arrives.

Rate-limited API keys are rotated automatically. When every key is
exhausted the command backs off and retries before giving up.

Examples:
  qanoon ask "What is the punishment for theft?"
  qanoon ask --lang ur "ضمانت کب ملتی ہے؟"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "limit", "k", qanoon.ConsultK, "Number of passages given to the model")
	cmd.Flags().StringVar(&opts.language, "lang", qanoon.LanguageEN, "Answer language (en, ur)")
	cmd.Flags().BoolVar(&opts.noWarm, "no-keepalive", false, "Do not start the embedder keep-alive task")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string, opts askOptions) error {
	if opts.language != qanoon.LanguageEN && opts.language != qanoon.LanguageUrdu {
		return fmt.Errorf("unsupported language %q (use %q or %q)", opts.language, qanoon.LanguageEN, qanoon.LanguageUrdu)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg, qanoon.WithKeepAlive(!opts.noWarm))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	// Returning early must stop the generation goroutine feeding the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := cmd.OutOrStdout()
	for fragment := range svc.Consult(ctx, question, nil, qanoon.InLanguage(opts.language), qanoon.WithK(opts.k)) {
		if _, err := fmt.Fprint(w, fragment); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}
