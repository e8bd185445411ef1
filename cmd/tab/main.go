package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	storageFlag, transportFlag, channelFlag string
	nameFlag, passwordFlag, colorFlag       string
	avatarFlag, logFile                     string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tab",
	Short: "Opens a Nexus chat tab. Without a subcommand the saved session is resumed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		u, ok := a.store.GetSession(cmd.Context())
		if !ok {
			return fmt.Errorf("no saved session, run \"tab login\" or \"tab register\" first")
		}
		return a.run(cmd.Context(), u)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Creates an account and opens a tab logged in as it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		password, err := readPassword(passwordFlag)
		if err != nil {
			return err
		}
		u, err := a.auth.Register(cmd.Context(), nameFlag, password, colorFlag, avatarFlag)
		if err != nil {
			return err
		}
		return a.run(cmd.Context(), u)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs in to an existing account and opens a tab.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		password, err := readPassword(passwordFlag)
		if err != nil {
			return err
		}
		u, err := a.auth.Login(cmd.Context(), nameFlag, password)
		if err != nil {
			return err
		}
		return a.run(cmd.Context(), u)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forgets the saved session.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.auth.Logout(cmd.Context())
		fmt.Println("Logged out.")
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Erases all local data: accounts, history and the saved session.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.store.Wipe(cmd.Context())
		fmt.Println("Local data erased.")
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&storageFlag, "storage", "s", "",
		"Local store backend: redis (default, shared) or memory (this process only). Overrides STORAGE.")
	pf.StringVarP(&transportFlag, "transport", "t", "",
		"Bus transport: nats or relay. Overrides TRANSPORT.")
	pf.StringVarP(&channelFlag, "channel", "c", "",
		"Broadcast channel name. Overrides CHANNEL_NAME.")
	pf.StringVarP(&logFile, "log", "l", "",
		"Log output path. By default logs are discarded so they do not "+
			"interleave with the chat. Use \"-\" for stderr.")

	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVarP(&nameFlag, "name", "n", "", "Account name.")
		c.Flags().StringVarP(&passwordFlag, "password", "p", "",
			"Account password. Read from stdin when empty.")
		_ = c.MarkFlagRequired("name")
	}
	registerCmd.Flags().StringVar(&colorFlag, "color", "", "Display color, e.g. #10b981.")
	registerCmd.Flags().StringVar(&avatarFlag, "avatar", "", "Avatar image URL.")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, wipeCmd)
}
