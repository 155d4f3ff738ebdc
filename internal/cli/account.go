package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"Parley/internal/media"
	"Parley/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("password", "", "account password")
	registerCmd.Flags().String("username", "", "display username")
	registerCmd.Flags().String("avatar", "", "path to an avatar image")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("password")
	_ = registerCmd.MarkFlagRequired("username")

	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")
	loginCmd.Flags().String("id-token", "", "federated identity token instead of email and password")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, statusCmd, avatarCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and print its session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		username, _ := cmd.Flags().GetString("username")
		req := service.RegisterRequest{Email: email, Password: password, Username: username}

		if path, _ := cmd.Flags().GetString("avatar"); path != "" {
			file, err := readFile(path)
			if err != nil {
				return err
			}
			req.Avatar = file
		}

		accounts := service.NewAccountService(identityClient(e), e.repos, e.uploader, e.cfg.Media.AvatarFolder, e.logger)
		id, err := accounts.Register(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd, id)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and print the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		accounts := service.NewAccountService(identityClient(e), e.repos, e.uploader, e.cfg.Media.AvatarFolder, e.logger)
		if idToken, _ := cmd.Flags().GetString("id-token"); idToken != "" {
			id, err := accounts.LoginFederated(cmd.Context(), idToken)
			if err != nil {
				return err
			}
			return printJSON(cmd, id)
		}

		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		id, err := accounts.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		return printJSON(cmd, id)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Go offline and end the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		_, auth, err := e.signIn(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		accounts := service.NewAccountService(auth, e.repos, e.uploader, e.cfg.Media.AvatarFolder, e.logger)
		if err := accounts.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [text]",
	Short: "Change your status line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		_, auth, err := e.signIn(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		accounts := service.NewAccountService(auth, e.repos, e.uploader, e.cfg.Media.AvatarFolder, e.logger)
		if err := accounts.ChangeStatus(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "status updated")
		return nil
	},
}

var avatarCmd = &cobra.Command{
	Use:   "avatar [path]",
	Short: "Upload a new avatar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		file, err := readFile(args[0])
		if err != nil {
			return err
		}
		_, auth, err := e.signIn(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		accounts := service.NewAccountService(auth, e.repos, e.uploader, e.cfg.Media.AvatarFolder, e.logger)
		url, err := accounts.ChangeAvatar(cmd.Context(), *file)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func readFile(path string) (*media.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &media.File{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
