// Command tgcf replicates messages between Telegram chats. It runs in
// one of three modes: live (follow new messages as they arrive), past
// (replay existing history from a checkpoint), or link (forward one
// message or album addressed by its share link).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
	"github.com/yschiu11/tgcf/pkg/engine/stages"
)

// These are filled at build time with -ldflags.
var (
	Tag    = "unknown"
	Commit = "unknown"
)

var (
	configPath string
	loud       bool
	linkDests  []string
)

var rootCmd = &cobra.Command{
	Use:   "tgcf",
	Short: "tgcf - Telegram chat replication",
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Follow configured chats and replicate new messages",
	RunE:  runLive,
}

var pastCmd = &cobra.Command{
	Use:   "past",
	Short: "Replay existing history from the stored checkpoints",
	RunE:  runPast,
}

var linkCmd = &cobra.Command{
	Use:   "link <url>",
	Short: "Forward one message (or its whole album) by share link",
	Args:  cobra.ExactArgs(1),
	RunE:  runLink,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s)", Tag, Commit)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tgcf.config.yml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&loud, "loud", false, "Enable debug logging")
	linkCmd.Flags().StringSliceVarP(&linkDests, "dest", "d", nil, "Destination chat (repeatable)")
	rootCmd.AddCommand(liveCmd, pastCmd, linkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if loud {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Logger().Level(level)
	exzerolog.SetupDefaults(&log)
	return log
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func telegramOptions(login config.LoginConfig) chat.TelegramOptions {
	return chat.TelegramOptions{
		APIID:         login.APIID,
		APIHash:       login.APIHash,
		SessionString: login.SessionString,
		SessionFile:   login.SessionFile,
		BotToken:      login.BotToken,
	}
}

// dialSecondary opens an extra session for stages that deliver through
// another account. The session lives for the remainder of ctx.
func dialSecondary(log zerolog.Logger) stages.DialFunc {
	return func(ctx context.Context, login config.LoginConfig) (chat.Client, error) {
		return chat.DialBackground(ctx, telegramOptions(login), log.With().Str("session", "secondary").Logger())
	}
}

// newSession loads the config, connects, and builds the resolved
// session, then hands control to run.
func newSession(run func(ctx context.Context, cfg *config.Config, s *engine.Session) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Login.APIID == 0 || cfg.Login.APIHash == "" {
		return fmt.Errorf("no API credentials in %s", configPath)
	}

	log := newLogger()
	ctx, cancel := signalContext()
	defer cancel()

	tg := chat.NewTelegram(telegramOptions(cfg.Login), log)
	return tg.Run(ctx, func(ctx context.Context) error {
		sts, err := stages.Load(&cfg.Stages, tg, dialSecondary(log), log)
		if err != nil {
			return err
		}
		if err := engine.InitStages(ctx, sts, log); err != nil {
			return fmt.Errorf("stage init failed: %w", err)
		}

		s := engine.NewSession(cfg, tg, sts, log)
		if err := s.ResolveRoutes(ctx); err != nil {
			return err
		}
		return run(ctx, cfg, s)
	})
}

func runLive(cmd *cobra.Command, args []string) error {
	return newSession(func(ctx context.Context, cfg *config.Config, s *engine.Session) error {
		return engine.NewLive(s).Run(ctx)
	})
}

func runPast(cmd *cobra.Command, args []string) error {
	return newSession(func(ctx context.Context, cfg *config.Config, s *engine.Session) error {
		save := func() error { return config.Save(configPath, cfg) }
		return engine.NewPast(s, save).Run(ctx)
	})
}

func runLink(cmd *cobra.Command, args []string) error {
	if len(linkDests) == 0 {
		return fmt.Errorf("at least one --dest is required")
	}
	link := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Login.APIID == 0 || cfg.Login.APIHash == "" {
		return fmt.Errorf("no API credentials in %s", configPath)
	}

	log := newLogger()
	ctx, cancel := signalContext()
	defer cancel()

	tg := chat.NewTelegram(telegramOptions(cfg.Login), log)
	return tg.Run(ctx, func(ctx context.Context) error {
		return engine.NewLinkForwarder(tg, log).Forward(ctx, link, linkDests)
	})
}
