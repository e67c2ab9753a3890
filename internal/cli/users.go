package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
)

var promoteCmd = &cobra.Command{
	Use:   "promote [email]",
	Short: "Grant the admin role to a registered user",
	Long: `Gives the user registered under email access to the admin endpoints.
The change applies to tokens issued from the next login on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRole(cmd, args[0], domain.RoleAdmin)
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote [email]",
	Short: "Return an admin to the user role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRole(cmd, args[0], domain.RoleUser)
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd, demoteCmd)
}

func setRole(cmd *cobra.Command, email, role string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}
	if s.Users == nil {
		return errNotConfigured
	}

	user, err := s.Users.SetRole(cmd.Context(), email, role)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	cmd.Printf("%s now has role %s.\n", user.Email, user.Role)
	return nil
}
