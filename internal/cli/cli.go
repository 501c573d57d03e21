// Package cli parses the command line and runs the cygnos subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"cygnos/internal/chat"
	"cygnos/internal/config"
	"cygnos/internal/db"
	"cygnos/internal/errs"
	"cygnos/internal/export"
	"cygnos/internal/logging"
	"cygnos/internal/models"
	"cygnos/internal/provider"
	"cygnos/internal/proxy"
	"cygnos/internal/storage"
	"cygnos/internal/styles"
	"cygnos/internal/ui"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// requestyPrompt is the fixed prompt of the requesty connectivity check.
const requestyPrompt = "Hello, tell me about Requesty Router and how it can be used for different AI models."

type cmdChat struct {
	WithProxy bool `help:"Also serve the local Requesty proxy while the chat is open."`
}

type cmdAsk struct {
	Model    string   `short:"m" help:"Model to use for this and later sends (persistent)."`
	Continue bool     `short:"c" help:"Append to the most recently started conversation instead of starting a new one."`
	ID       string   `name:"id" help:"Append to the conversation with this id (see ls)."`
	Raw      bool     `help:"Print the reply as-is instead of rendering markdown."`
	Text     []string `arg:"" help:"Message to send."`
}

type cmdProxy struct {
	Addr     string `help:"Listen address, overrides [proxy] addr."`
	Upstream string `help:"Requesty router base URL, overrides [proxy] upstream."`
}

type cmdRequesty struct {
	Mode    string `arg:"" help:"normal or stream."`
	Model   string `arg:"" help:"Model to query."`
	APIKey  string `arg:"" name:"api-key" help:"Requesty API key."`
	BaseURL string `name:"base-url" help:"Router base URL, defaults to [requesty] base_url."`
}

type cmdExport struct {
	ID     string `arg:"" help:"Conversation id (see ls)."`
	Format string `short:"f" default:"md" help:"md, html or json."`
	Out    string `short:"o" help:"Output file or directory, stdout when empty. A directory gets <id>.<format>."`
}

type cmdLs struct{}

type cmdModels struct{}

type cliArgs struct {
	Config   string      `help:"Path to config.toml."`
	Verbose  bool        `short:"v" help:"Log at debug level."`
	Chat     cmdChat     `cmd:"" help:"Open the terminal chat (default)."`
	Ask      cmdAsk      `cmd:"" help:"Send one message and print the reply."`
	Proxy    cmdProxy    `cmd:"" help:"Serve the local Requesty proxy."`
	Requesty cmdRequesty `cmd:"" help:"Send a test prompt straight to the Requesty router."`
	Export   cmdExport   `cmd:"" help:"Export a stored conversation."`
	Ls       cmdLs       `cmd:"" help:"List stored conversations."`
	Models   cmdModels   `cmd:"" help:"List the known models."`
}

// CliConfig carries the process environment the commands run in.
type CliConfig struct {
	Name        string
	Description string
	Exit        func(int)
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	// App overrides the config file when set.
	App *config.Config
}

func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "cygnos",
		Description: "Chat with Gemini and Requesty models from the terminal.",
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses args and runs the selected subcommand. With no arguments it
// opens the chat.
func Cli(args []string, cc *CliConfig) (int, error) {
	var cli cliArgs
	parser, err := kong.New(&cli,
		kong.Name(cc.Name),
		kong.Description(cc.Description),
		kong.Exit(cc.Exit),
		kong.Writers(cc.Stdout, cc.Stderr),
	)
	if err != nil {
		return 1, err
	}
	if len(args) == 0 {
		args = []string{"chat"}
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return 2, err
	}

	cmd := strings.Fields(kctx.Command())[0]

	switch cmd {
	case "models":
		printModels(cc.Stdout)
		return 0, nil
	}

	cfg := cc.App
	if cfg == nil {
		if cli.Config != "" {
			cfg, err = config.LoadFromPath(cli.Config)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return 1, err
		}
	}
	if cli.Verbose {
		cfg.Log.Level = "debug"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd == "chat" {
		return exitCode(runChat(ctx, cfg, cli.Chat))
	}

	logger, err := logging.New(cc.Stderr, cfg.Log)
	if err != nil {
		return 1, err
	}

	switch cmd {
	case "proxy":
		return exitCode(runProxy(ctx, cfg, logger, cli.Proxy))
	case "requesty":
		return exitCode(runRequesty(ctx, cfg, cli.Requesty, cc.Stdout))
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return 1, err
	}
	defer a.Close()

	switch cmd {
	case "ask":
		err = runAsk(ctx, a, cli.Ask, cc.Stdout)
	case "export":
		err = runExport(a, cli.Export, cc.Stdout)
	case "ls":
		err = runLs(a, cc.Stdout)
	default:
		err = fmt.Errorf("unrecognized command: %s", kctx.Command())
	}
	return exitCode(err)
}

func exitCode(err error) (int, error) {
	if err != nil {
		return 1, err
	}
	return 0, nil
}

// app is the wired client: storage, settings, providers and orchestrator.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	kv       db.KV
	settings *config.State
	store    *storage.Store
	orch     *chat.Orchestrator
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	kv, err := db.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	settings := config.NewState(kv, logger).WithFallbackKeys(cfg.Gemini.APIKey, cfg.Requesty.APIKey)
	if err := settings.Load(); err != nil {
		kv.Close()
		return nil, err
	}
	store := storage.New(kv, storage.WithLogger(logger))
	if err := store.Load(); err != nil {
		kv.Close()
		return nil, err
	}

	adapter := provider.NewAdapter(logger,
		provider.NewGemini(cfg.Gemini.BaseURL, nil),
		provider.NewRequesty(cfg.RequestyEndpoint(), nil),
	)
	orch := chat.New(store, settings, adapter, chat.WithLogger(logger))

	return &app{cfg: cfg, log: logger, kv: kv, settings: settings, store: store, orch: orch}, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

func runChat(ctx context.Context, cfg *config.Config, c cmdChat) error {
	logger, closer, err := logging.Open(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.WithProxy {
		srv := proxy.NewServer(cfg.Proxy.Addr, cfg.Proxy.Upstream, proxy.WithLogger(logger))
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("proxy stopped", "error", err)
			}
		}()
	}

	logger.Info("chat started", "model", a.settings.CurrentModel(), "conversations", len(a.store.List()))
	p, _ := ui.NewProgram(ctx, a.orch)
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runProxy(ctx context.Context, cfg *config.Config, logger *slog.Logger, c cmdProxy) error {
	addr := cfg.Proxy.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	upstream := cfg.Proxy.Upstream
	if c.Upstream != "" {
		upstream = c.Upstream
	}
	return proxy.NewServer(addr, upstream, proxy.WithLogger(logger)).Run(ctx)
}

func runAsk(ctx context.Context, a *app, c cmdAsk, out io.Writer) error {
	// selecting a conversation switches to its model, so --model applies after
	target := c.ID
	if target == "" && c.Continue {
		if convs := a.store.List(); len(convs) > 0 {
			target = convs[0].ID
		}
	}
	if target != "" {
		if _, err := a.orch.Select(target); err != nil {
			return fmt.Errorf("conversation %q: %w", target, err)
		}
	}

	if c.Model != "" {
		ok, err := a.settings.SetCurrentModel(c.Model, "")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown model %q, see `cygnos models`", c.Model)
		}
	}
	if target == "" {
		if _, err := a.orch.NewConversation(); err != nil {
			return err
		}
	}

	var streamed bool
	var onDelta func(string)
	if c.Raw {
		onDelta = func(d string) {
			streamed = true
			fmt.Fprint(out, d)
		}
	}

	res, err := a.orch.SendUserMessage(ctx, strings.Join(c.Text, " "), onDelta)
	if err != nil {
		var verr *errs.ValidationError
		if errors.As(err, &verr) && errors.Is(err, errs.ErrMissingCredential) {
			return fmt.Errorf("%w (set it in config.toml or CYGNOS_%s_API_KEY)", err, strings.ToUpper(string(verr.Provider)))
		}
		return err
	}

	if c.Raw {
		if !streamed {
			fmt.Fprint(out, res.Reply.Content)
		}
		fmt.Fprintln(out)
		return nil
	}

	styles.ApplyTheme(a.settings.Theme())
	rendered, err := glamour.Render(res.Reply.Content, styles.GlamourStyle())
	if err != nil {
		rendered = res.Reply.Content + "\n"
	}
	fmt.Fprint(out, rendered)
	return nil
}

func runExport(a *app, c cmdExport, out io.Writer) error {
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	conv, ok := a.store.Get(c.ID)
	if !ok {
		return fmt.Errorf("conversation %q: %w", c.ID, errs.ErrNotFound)
	}

	if c.Out == "" {
		return export.Write(out, conv, format)
	}
	path := c.Out
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, conv.ID+"."+format.Extension())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(f, conv, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runLs(a *app, out io.Writer) error {
	current := a.store.CurrentID()
	for _, conv := range a.store.List() {
		mark := " "
		if conv.ID == current {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s  %-30s  %3d msgs  %s\n",
			mark, conv.ID, ui.TruncateRunes(ui.PromptPreview(conv.Title), 30), len(conv.Messages), conv.Model)
	}
	return nil
}

func printModels(out io.Writer) {
	grouped := models.GroupedModels()
	for _, p := range []models.ProviderID{models.ProviderGemini, models.ProviderRequesty} {
		fmt.Fprintf(out, "%s:\n", p.Label())
		for _, m := range grouped[p] {
			if m.Name != m.ID {
				fmt.Fprintf(out, "  %-40s %s\n", m.ID, m.Name)
			} else {
				fmt.Fprintf(out, "  %s\n", m.ID)
			}
		}
	}
}

func runRequesty(ctx context.Context, cfg *config.Config, c cmdRequesty, out io.Writer) error {
	if c.Mode != "normal" && c.Mode != "stream" {
		return fmt.Errorf("mode must be normal or stream, got %q", c.Mode)
	}
	if !slices.Contains(models.ProxyModels, c.Model) {
		fmt.Fprintln(out, "Available models:")
		for _, m := range models.ProxyModels {
			fmt.Fprintf(out, "  %s\n", m)
		}
		return fmt.Errorf("unsupported model %q", c.Model)
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = cfg.Requesty.BaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(c.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	params := openai.ChatCompletionNewParams{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(provider.DefaultSystemPrompt),
			openai.UserMessage(requestyPrompt),
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(800),
	}

	fmt.Fprintf(out, "Model: %s\nPrompt: %s\n\n", c.Model, requestyPrompt)

	if c.Mode == "stream" {
		stream := client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				fmt.Fprint(out, chunk.Choices[0].Delta.Content)
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("requesty stream: %w", err)
		}
		fmt.Fprintln(out)
		return nil
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("requesty: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("requesty: response has no choices")
	}
	fmt.Fprintln(out, resp.Choices[0].Message.Content)
	if u := resp.Usage; u.TotalTokens > 0 {
		fmt.Fprintf(out, "\nTokens: prompt %d, completion %d, total %d\n", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
	return nil
}
