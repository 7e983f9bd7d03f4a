package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haidra-org/horde-model-reference/internal/auth"
	"github.com/haidra-org/horde-model-reference/internal/server"
)

// AuthCmd groups the credential utilities of the service.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage write credentials",
	Long:  `Utilities for the users file that guards write endpoints when auth.type=basic.`,
}

var hashFromStdin bool

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print the bcrypt hash of a password",
	Long: `Print the bcrypt hash of a password for the users file. The password is
read without echo from the terminal, or as a single line from stdin with --stdin.`,
	Args: cobra.NoArgs,
	RunE: runHashPassword,
}

var checkUsersCmd = &cobra.Command{
	Use:   "check-users <users-file>",
	Short: "Validate a users file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := server.NewLoggerTo(cmd.ErrOrStderr(), "warn", "text")
		a, err := auth.NewBasicAuth(args[0], logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d users)\n", args[0], a.UserCount())
		return nil
	},
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&hashFromStdin, "stdin", false, "Read the password from stdin")
	AuthCmd.AddCommand(hashPasswordCmd, checkUsersCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	if hashFromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, use --stdin")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
