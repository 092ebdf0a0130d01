package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/system"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitProvider   = 2
)

// app holds the global flags and the initialized system shared by commands.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfgFile    string
	provider   string
	model      string
	jsonOutput bool
	verbose    bool

	sys *system.System
	// newSystem builds the System; tests replace it.
	newSystem func(...system.Option) *system.System
	// readSecret reads a credential without echo.
	readSecret func() (string, error)
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, newSystem: system.New}
	a.readSecret = a.readSecretFromInput
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "polyllm",
		Short: "polyllm - one interface to many LLM providers",
		Long: `polyllm sends prompts and chats to interchangeable LLM providers
(mock, ollama, groq, together, grok, gemini) configured in
$XDG_CONFIG_HOME/polyllm/config.toml.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initSystem()
		},
		SilenceUsage: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	// Global flags available to all commands
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/polyllm/config.toml)")
	root.PersistentFlags().StringVar(&a.provider, "provider", "", "provider name (mock, ollama, groq, together, grok, gemini)")
	root.PersistentFlags().StringVar(&a.model, "model", "", "model id (e.g. llama-3.1-8b-instant)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		a.providersCmd(),
		a.modelsCmd(),
		a.generateCmd(),
		a.chatCmd(),
		a.validateCmd(),
	)
	return root
}

// initSystem loads the configuration and registers the providers.
func (a *app) initSystem() error {
	var opts []system.Option
	opts = append(opts, system.WithLogOutput(a.errOut))
	if a.verbose {
		opts = append(opts, system.WithLogger(slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	a.sys = a.newSystem(opts...)
	if err := a.sys.Initialize(a.cfgFile); err != nil {
		return exitWithCode(ExitValidation, err)
	}
	slog.SetDefault(a.sys.Logger())
	return nil
}

// clientOptions returns the factory options implied by the global flags.
func (a *app) clientOptions() []polyllm.ClientOption {
	var opts []polyllm.ClientOption
	if a.provider != "" {
		opts = append(opts, polyllm.WithProvider(a.provider))
	}
	if a.model != "" {
		opts = append(opts, polyllm.WithModel(a.model))
	}
	return opts
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// exitError wraps an error with an exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}
