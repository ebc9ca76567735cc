package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"reel-go/internal/app"
	"reel-go/internal/config"
	"reel-go/internal/encryption"
	"reel-go/internal/reel"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a ReelApp. The caller must defer closeApp.
// operation identifies the CLI command being run (e.g. "ChangeAccept").
func newApp(cmd *cobra.Command, operation, parameters string) (*app.ReelApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewReelApp(cmd.Context(), cfg, app.Options{
		Operation:  operation,
		Parameters: parameters,
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func closeApp(ctx context.Context, a *app.ReelApp) {
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "closing: %v\n", err)
	}
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "reel",
	Short:        "Video feed edits: propose, accept and reject changes",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			userID = uuid.New().String()
		}

		cfg := config.NewConfig(userID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", userID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User ID:   %s\n", cfg.UserID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Metadata:  %s\n", cfg.Metadata.Type)
		fmt.Printf("Blob:      %s (bucket %s, sealed edits: %t)\n", cfg.Blob.Type, cfg.Blob.Bucket, cfg.Blob.SealEdits)
		fmt.Printf("Lock:      %s\n", cfg.Lock.Type)
		for _, n := range cfg.Notify {
			fmt.Printf("Notify:    %s\n", n.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the key used to seal edit assets",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a passphrase-protected key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// video command
var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Publish and list videos",
}

var videoPublishCmd = &cobra.Command{
	Use:   "publish FILE",
	Short: "Publish a video to the feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caption, _ := cmd.Flags().GetString("caption")

		a, err := newApp(cmd, "VideoPublish", args[0])
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		video, err := a.Publish(cmd.Context(), args[0], caption)
		if err != nil {
			return fmt.Errorf("publishing: %w", err)
		}

		fmt.Printf("Published %s\n", video.ID)
		fmt.Printf("URL: %s\n", video.CanonicalURL)
		return nil
	},
}

var videoListCmd = &cobra.Command{
	Use:   "list",
	Short: "View the feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")

		a, err := newApp(cmd, "VideoList", "")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		videos, next, err := a.Feed(cmd.Context(), limit, cursor)
		if err != nil {
			return err
		}

		if len(videos) == 0 {
			fmt.Println("No videos.")
			return nil
		}

		for _, v := range videos {
			edited := ""
			if v.IsEdited {
				edited = fmt.Sprintf("  [edit of %s]", v.PreviousVersionID)
			}
			fmt.Printf("%s  %s  %s%s\n",
				v.ID,
				v.CreatedAt.Format("2006-01-02 15:04:05"),
				v.Caption,
				edited,
			)
		}
		if next != "" {
			fmt.Printf("\nMore: --cursor %s\n", next)
		}
		return nil
	},
}

// change command
var changeCmd = &cobra.Command{
	Use:   "change",
	Short: "Propose, accept and reject changes",
}

var changeProposeCmd = &cobra.Command{
	Use:   "propose VIDEO_ID [FILE]",
	Short: "Propose a change; without FILE the change is a text-only suggestion",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		filters, _ := cmd.Flags().GetStringToString("filter")
		adjustments, _ := cmd.Flags().GetStringToString("adjust")
		transform, _ := cmd.Flags().GetStringToString("transform")

		file := ""
		if len(args) == 2 {
			file = args[1]
		}
		diff := &reel.DiffMetadata{Filters: filters, Adjustments: adjustments, Transform: transform}

		a, err := newApp(cmd, "ChangePropose", strings.Join(args, " "))
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		change, err := a.Propose(cmd.Context(), args[0], file, description, diff)
		if err != nil {
			return fmt.Errorf("proposing: %w", err)
		}

		fmt.Printf("Proposed change %s on video %s\n", change.ID, change.VideoID)
		return nil
	},
}

var changeListCmd = &cobra.Command{
	Use:   "list VIDEO_ID",
	Short: "View the changes proposed against a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ChangeList", args[0])
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		changes, err := a.Changes(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printChanges(changes)
		return nil
	},
}

var changeAcceptCmd = &cobra.Command{
	Use:   "accept CHANGE_ID",
	Short: "Accept a change and promote its edit to a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ChangeAccept", args[0])
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		if a.NeedsUnlock() {
			passphrase, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if err := a.Unlock(passphrase); err != nil {
				return err
			}
		}

		res, err := a.Accept(cmd.Context(), args[0])
		if err != nil {
			var perr *reel.PromotionError
			if errors.As(err, &perr) {
				fmt.Fprintf(os.Stderr, "Change %s is accepted but promotion failed at %s; run accept again to resume.\n", args[0], perr.Step)
			}
			return fmt.Errorf("accepting: %w", err)
		}

		if res.NewVideo == nil {
			fmt.Printf("Accepted change %s (text only)\n", res.Change.ID)
		} else {
			fmt.Printf("Accepted change %s: video %s supersedes %s\n", res.Change.ID, res.NewVideo.ID, res.NewVideo.PreviousVersionID)
			fmt.Printf("URL: %s\n", res.NewVideo.CanonicalURL)
		}
		if res.Changes != nil {
			printChanges(res.Changes)
		}
		return nil
	},
}

var changeRejectCmd = &cobra.Command{
	Use:   "reject CHANGE_ID",
	Short: "Reject a change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ChangeReject", args[0])
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		changes, err := a.Reject(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("rejecting: %w", err)
		}

		fmt.Printf("Rejected change %s\n", args[0])
		printChanges(changes)
		return nil
	},
}

func printChanges(changes []*reel.Change) {
	if len(changes) == 0 {
		fmt.Println("No changes.")
		return
	}
	for _, c := range changes {
		kind := "text"
		if c.HasEditAsset() {
			kind = "edit"
		}
		fmt.Printf("%s  %-8s  %-4s  %s  %s\n",
			c.ID,
			c.Status,
			kind,
			c.CreatedAt.Format("2006-01-02 15:04:05"),
			c.Description,
		)
	}
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History", "")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Name,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Print debug logs to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("user", "", "User ID to sign in as (generated when empty)")

	keysCmd.AddCommand(keysInitCmd)

	// video subcommands
	videoCmd.AddCommand(videoPublishCmd)
	videoCmd.AddCommand(videoListCmd)
	videoPublishCmd.Flags().StringP("caption", "c", "", "Caption shown in the feed")
	videoListCmd.Flags().IntP("limit", "n", 20, "Maximum number of videos to show")
	videoListCmd.Flags().String("cursor", "", "Continue from a previous page")

	// change subcommands
	changeCmd.AddCommand(changeProposeCmd)
	changeCmd.AddCommand(changeListCmd)
	changeCmd.AddCommand(changeAcceptCmd)
	changeCmd.AddCommand(changeRejectCmd)
	changeProposeCmd.Flags().StringP("description", "d", "", "What the change does")
	changeProposeCmd.Flags().StringToString("filter", nil, "Filter applied, as name=value")
	changeProposeCmd.Flags().StringToString("adjust", nil, "Adjustment applied, as name=value")
	changeProposeCmd.Flags().StringToString("transform", nil, "Transform applied, as name=value")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(changeCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
