package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

const textPrefix = "text:"

type options struct {
	question      string
	model         string
	student       string
	persona       string
	customPersona string
	apiKey        string
	remote        string
	provider      string
	aiModel       string
	timeout       time.Duration
	maxSizeMB     int
	matchEmptyIDs bool
	verbose       bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("gradectl", pflag.ContinueOnError)
	flags.SetOutput(output)

	flags.StringVarP(&opts.question, "question", "q", "", "question sheet: image/PDF path or text:<questions>")
	flags.StringVarP(&opts.model, "model", "m", "", "model answer sheet: image/PDF path or text:<answers>")
	flags.StringVarP(&opts.student, "student", "s", "", "student answer sheet: image/PDF path or text:<answers>")
	flags.StringVarP(&opts.persona, "persona", "p", service.PersonaBalanced, "grader persona: balanced, strict, insightful or custom")
	flags.StringVar(&opts.customPersona, "custom-persona", "", "grading instructions for the custom persona")
	flags.StringVar(&opts.apiKey, "api-key", "", "language model API key (default $GEMA_GRADER_API_KEY)")
	flags.StringVar(&opts.remote, "remote", "", "grading service base URL; grades in-process when empty")
	flags.StringVar(&opts.provider, "provider", "gemini", "language model provider for in-process grading: gemini or openai")
	flags.StringVar(&opts.aiModel, "ai-model", "", "language model name override")
	flags.DurationVar(&opts.timeout, "timeout", 3*time.Minute, "maximum time to wait for the grader")
	flags.IntVar(&opts.maxSizeMB, "max-size-mb", 10, "maximum size of each input file")
	flags.BoolVar(&opts.matchEmptyIDs, "match-empty-ids", false, "pair questions whose IDs contain no digits")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("GEMA_GRADER_API_KEY")
	}
	return opts, nil
}

// slotFromArg maps "text:<content>" onto text mode and anything else onto a
// file path in image mode. An empty argument leaves the slot empty.
func slotFromArg(arg string) (models.InputMode, string, service.FileSource) {
	if strings.HasPrefix(arg, textPrefix) {
		return models.InputModeText, strings.TrimPrefix(arg, textPrefix), nil
	}
	if strings.TrimSpace(arg) == "" {
		return models.InputModeImage, "", nil
	}
	return models.InputModeImage, "", service.PathFile{Path: arg}
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	personas, err := service.NewPersonaCatalog(nil)
	if err != nil {
		return err
	}

	var dispatcher service.Dispatcher
	if opts.remote != "" {
		dispatcher = service.NewHTTPDispatcher(opts.remote, nil, logger)
	} else {
		model, err := ai.NewModel(ai.ProviderConfig{Provider: opts.provider, Model: opts.aiModel, Logger: logger})
		if err != nil {
			return err
		}
		dispatcher = service.NewLocalDispatcher(service.NewEvaluationService(model, nil, 0, logger))
	}

	gradingService := service.NewGradingService(
		service.NewInputCollector(opts.maxSizeMB, logger),
		personas,
		dispatcher,
		nil,
		service.GradingServiceConfig{Timeout: opts.timeout, MatchEmptyIDs: opts.matchEmptyIDs},
		logger,
	)

	session := service.NewSession(gradingService, func(state service.GradingState) {
		logger.Info().Str("state", string(state)).Msg(state.Description())
	})

	inputs := map[models.Role]string{
		models.RoleQuestion: opts.question,
		models.RoleModel:    opts.model,
		models.RoleStudent:  opts.student,
	}
	for _, role := range models.Roles {
		mode, text, file := slotFromArg(inputs[role])
		if err := session.SelectMode(role, mode); err != nil {
			return err
		}
		if err := session.SetText(role, text); err != nil {
			return err
		}
		if err := session.AttachFile(role, file); err != nil {
			return err
		}
	}
	session.SelectPersona(opts.persona, opts.customPersona)

	outcome, err := session.Submit(ctx, opts.apiKey)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			return fmt.Errorf("%w: pass a valid key with --api-key", err)
		}
		return err
	}

	return printOutcome(stdout, outcome)
}

func printOutcome(out io.Writer, outcome service.GradingOutcome) error {
	fmt.Fprintf(out, "Run %s (%s grader)\n\n", outcome.RunID, outcome.PersonaLabel)
	if len(outcome.Results) == 0 {
		_, err := fmt.Fprintln(out, "No answers could be matched to the question bank.")
		return err
	}

	table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tGRADE\tSIMILARITY\tQUESTION")
	for _, result := range outcome.Results {
		fmt.Fprintf(table, "%s\t%.1f/10\t%.0f%%\t%s\n",
			result.Entry.ID,
			result.Evaluation.Grade,
			result.SimilarityScore*100,
			truncate(result.Entry.Question, 60),
		)
	}
	if err := table.Flush(); err != nil {
		return err
	}

	for _, result := range outcome.Results {
		fmt.Fprintf(out, "\n[%s] %s\n", result.Entry.ID, result.Entry.Question)
		fmt.Fprintf(out, "  Model answer:   %s\n", result.Entry.ModelAnswer)
		fmt.Fprintf(out, "  Student answer: %s\n", result.Evaluation.ExtractedAnswer)
		fmt.Fprintf(out, "  Feedback:       %s\n", strings.ReplaceAll(result.Evaluation.Feedback, "\n", "\n                  "))
	}
	return nil
}

func truncate(value string, max int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}
