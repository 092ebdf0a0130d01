package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xostack/polyllm"
	"golang.org/x/term"
)

func (a *app) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.sys.ListProviders()
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}
			if a.jsonOutput {
				return a.printJSON(names)
			}
			for _, name := range names {
				a.printf("%s\n", name)
			}
			return nil
		},
	}
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List the models of a provider, or all configured models",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := a.provider
			if len(args) == 1 {
				provider = args[0]
			}
			if provider == "" {
				models, err := a.sys.ListModels("")
				if err != nil {
					return exitWithCode(ExitValidation, err)
				}
				if a.jsonOutput {
					return a.printJSON(models)
				}
				for _, m := range models {
					a.printf("%s\n", m)
				}
				return nil
			}

			p, err := a.sys.Provider(provider)
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}
			var infos []polyllm.ModelInfo
			for _, id := range p.AvailableModels() {
				info, _ := p.ModelInfo(id)
				infos = append(infos, info)
			}
			if a.jsonOutput {
				return a.printJSON(infos)
			}
			for _, info := range infos {
				if info.Description != "" {
					a.printf("%s\t%s\n", info.ID, info.Description)
				} else {
					a.printf("%s\n", info.ID)
				}
			}
			return nil
		},
	}
}

// callFlags are the per-request flags shared by generate and chat.
type callFlags struct {
	system      string
	temperature float64
	maxTokens   int
	stream      bool
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "Temperature (0 = use default)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Max tokens (0 = use default)")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "Enable streaming output")
}

func (f *callFlags) options() []polyllm.CallOption {
	var opts []polyllm.CallOption
	if f.system != "" {
		opts = append(opts, polyllm.WithParam(polyllm.OptSystemPrompt, f.system))
	}
	if f.temperature > 0 {
		opts = append(opts, polyllm.WithTemperature(f.temperature))
	}
	if f.maxTokens > 0 {
		opts = append(opts, polyllm.WithMaxTokens(f.maxTokens))
	}
	return opts
}

func (a *app) generateCmd() *cobra.Command {
	var flags callFlags
	var prompt string
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a completion for a prompt",
		Long: `Generate a completion for a prompt.

Examples:
  polyllm generate "Tell me a joke"
  polyllm generate --provider groq --model llama-3.1-8b-instant --stream -p "Hello"
  polyllm generate -p "Hello" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				prompt = strings.Join(args, " ")
			}
			if strings.TrimSpace(prompt) == "" {
				return exitWithCode(ExitValidation, fmt.Errorf("prompt required: pass it as an argument or with --prompt"))
			}

			ctx := cmd.Context()
			client, err := a.sys.CreateClient(ctx, a.clientOptions()...)
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}

			if flags.stream {
				return a.stream(client.GenerateStream(ctx, prompt, flags.options()...))
			}
			return a.respond(client.Generate(ctx, prompt, flags.options()...))
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text")
	flags.register(cmd)
	return cmd
}

func (a *app) chatCmd() *cobra.Command {
	var flags callFlags
	var shots, historySize int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat that keeps conversation history",
		Long: `Start an interactive chat. Each line is sent with the conversation
history as context. Commands: /history, /clear, /quit.

With --shots N only the last N exchanges are sent as context.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := append(a.clientOptions(), polyllm.WithHistorySize(historySize))
			client, err := a.sys.CreateClient(ctx, opts...)
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}
			return a.repl(ctx, client, flags, shots)
		},
	}
	cmd.Flags().IntVar(&shots, "shots", 0, "Send only the last N exchanges as context (0 = whole history)")
	cmd.Flags().IntVar(&historySize, "history-size", polyllm.DefaultHistorySize, "Number of exchanges to remember")
	flags.register(cmd)
	return cmd
}

func (a *app) repl(ctx context.Context, client *polyllm.Client, flags callFlags, shots int) error {
	a.printf("Chatting with %s/%s. Type /quit to exit.\n", client.Provider(), client.Model())
	scanner := bufio.NewScanner(a.in)
	for {
		a.printf("> ")
		if !scanner.Scan() {
			a.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			client.ClearHistory()
			a.printf("History cleared.\n")
			continue
		case line == "/history":
			for i, it := range client.History().All() {
				a.printf("%d. %s\n   %s\n", i+1, it.Prompt, it.Response)
			}
			continue
		}

		callOpts := append(flags.options(), polyllm.UseHistory())
		var err error
		switch {
		case shots > 0:
			err = a.respond(client.MultiShotGenerate(ctx, line, shots, flags.options()...))
		case flags.stream:
			err = a.stream(client.GenerateStream(ctx, line, callOpts...))
		default:
			err = a.respond(client.Generate(ctx, line, callOpts...))
		}
		if err != nil {
			fmt.Fprintf(a.errOut, "error: %v\n", err)
		}
	}
}

func (a *app) respond(resp polyllm.Response) error {
	if resp.Failed() {
		return exitWithCode(ExitProvider, resp.Err())
	}
	if a.jsonOutput {
		return a.printJSON(resp)
	}
	a.printf("%s\n", resp.Content)
	if a.verbose && len(resp.Usage) > 0 {
		fmt.Fprintf(a.errOut, "Usage: %d input + %d output tokens\n",
			resp.Usage[polyllm.InputTokens], resp.Usage[polyllm.OutputTokens])
	}
	return nil
}

func (a *app) stream(s polyllm.Stream) error {
	if a.jsonOutput {
		text, err := polyllm.CollectStream(s)
		if err != nil {
			return exitWithCode(ExitProvider, err)
		}
		return a.printJSON(map[string]string{"content": text})
	}
	for chunk, err := range s {
		if err != nil {
			a.printf("\n")
			return exitWithCode(ExitProvider, err)
		}
		a.printf("%s", chunk)
	}
	a.printf("\n")
	return nil
}

func (a *app) validateCmd() *cobra.Command {
	var promptKey bool
	cmd := &cobra.Command{
		Use:   "validate [provider]",
		Short: "Check a provider credential",
		Long: `Check a provider credential with a live request.

The configured key is used unless --prompt-key is given, in which case
the key is read from the terminal without echo.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := a.provider
			if len(args) == 1 {
				provider = args[0]
			}
			if provider == "" {
				provider, _ = a.sys.Factory().Defaults()
			}

			var key string
			if promptKey {
				a.printf("Enter API key for %s: ", provider)
				k, err := a.readSecret()
				if err != nil {
					return exitWithCode(ExitValidation, fmt.Errorf("failed to read key: %w", err))
				}
				if k == "" {
					return exitWithCode(ExitValidation, fmt.Errorf("API key cannot be empty"))
				}
				key = k
			}

			ok, err := a.sys.ValidateAPIKey(cmd.Context(), provider, key)
			if err != nil {
				return exitWithCode(ExitValidation, err)
			}
			if a.jsonOutput {
				return a.printJSON(map[string]any{"provider": provider, "valid": ok})
			}
			if !ok {
				return exitWithCode(ExitProvider, fmt.Errorf("credential for %s was rejected", provider))
			}
			a.printf("Credential for %s is valid.\n", provider)
			return nil
		},
	}
	cmd.Flags().BoolVar(&promptKey, "prompt-key", false, "Read the key from the terminal instead of the configuration")
	return cmd
}

// readSecretFromInput reads a line without echo when stdin is a terminal.
func (a *app) readSecretFromInput() (string, error) {
	// Read without echo if terminal
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		keyBytes, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		a.printf("\n") // Newline after hidden input
		return strings.TrimSpace(string(keyBytes)), nil
	}
	// Fallback for non-terminal (e.g., piped input)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
