package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Parley/internal/configuration"
	"Parley/internal/db"
	"Parley/internal/eventlog"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/service"
	"Parley/internal/session"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "unknown"
)

var ErrNoToken = errors.New("no session token: run login first or pass --token")

const signInTimeout = 10 * time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley chat client",
	Long: `Parley drives the chat sync core directly against the configured
document store: account and contact management, messaging, and live
roster and conversation views.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $PARLEY_CONFIG)")
	rootCmd.PersistentFlags().String("token", "", "session token (default is $PARLEY_TOKEN)")
}

// env is everything a command needs, opened from the config file.
type env struct {
	cfg       *configuration.Config
	logger    *zap.Logger
	store     db.Store
	repos     service.Repos
	directory identity.Directory
	uploader  media.Uploader
	events    eventlog.Publisher
}

func openEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("PARLEY_CONFIG")
	}
	cfg, err := configuration.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := zap.NewNop()
	if verbose {
		cfg.Log.Development = true
		if logger, err = configuration.NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	store, err := configuration.OpenStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		repos:     configuration.NewRepos(store, logger),
		directory: configuration.NewDirectory(store, cfg.Auth, logger),
		uploader:  configuration.NewUploader(cfg.Media, logger),
		events:    configuration.NewPublisher(cfg.Kafka, logger),
	}, nil
}

func (e *env) Close() {
	_ = e.events.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.store.Close(ctx)
	_ = e.logger.Sync()
}

// signIn restores the token into a session state and waits for the session
// to resolve.
func (e *env) signIn(ctx context.Context, cmd *cobra.Command) (*session.Session, *identity.Client, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("PARLEY_TOKEN")
	}
	if token == "" {
		return nil, nil, ErrNoToken
	}

	auth := identity.NewClient(e.directory)
	state := session.NewState(auth, e.repos.Users, e.logger,
		session.WithProfileRetry(e.cfg.Session.ProfileRetries, e.cfg.Session.ProfileRetryDelay.Duration()))

	ready := make(chan *session.Session, 1)
	unsub := state.OnChange(func(sess *session.Session) {
		if sess != nil {
			select {
			case ready <- sess:
			default:
			}
		}
	})
	defer unsub()
	state.Start()
	defer state.Stop()

	if _, err := auth.Restore(ctx, token); err != nil {
		return nil, nil, err
	}

	select {
	case sess := <-ready:
		return sess, auth, nil
	case <-time.After(signInTimeout):
		return nil, nil, fmt.Errorf("session did not resolve within %s", signInTimeout)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// membership finds the signed-in user's row for chatID.
func (e *env) membership(ctx context.Context, sess *session.Session, chatID string) (*model.Membership, error) {
	rows, err := e.repos.Members.List(ctx, sess.UID())
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.ChatID == chatID {
			found := row
			return &found, nil
		}
	}
	return nil, fmt.Errorf("chat %s is not in your chat list", chatID)
}

// run opens the environment and signs in before calling fn.
func run(cmd *cobra.Command, fn func(ctx context.Context, e *env, sess *session.Session) error) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	sess, _, err := e.signIn(ctx, cmd)
	if err != nil {
		return err
	}
	return fn(ctx, e, sess)
}

func identityClient(e *env) *identity.Client {
	return identity.NewClient(e.directory)
}
