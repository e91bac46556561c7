package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	githubadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

func newSecretCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials in the encrypted store",
		Long: `Manage the provider credentials held in the local encrypted store.
Requires secret_key (PRREVIEWER_SECRET_KEY), a hex-encoded 32-byte key.`,
	}
	cmd.AddCommand(newSecretSetCmd(st), newSecretDeleteCmd(st), newSecretListCmd(st))
	return cmd
}

func newSecretSetCmd(st *state) *cobra.Command {
	var skipValidate bool

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a credential; the value is read from stdin when omitted",
		Example: `  echo "$GITHUB_TOKEN" | prreviewer secret set github_token
  prreviewer secret set anthropic_api_key sk-ant-...`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return model.Validationf("secret value is empty")
			}

			ctx := cmd.Context()
			if name == st.cfg.GitHub.TokenSecret && !skipValidate {
				login, err := githubadapter.ValidateToken(ctx, value, st.cfg.GitHub.BaseURL)
				if err != nil {
					return err
				}
				st.ui.VerboseLog("token belongs to %s", login)
			}

			return st.withCredentials(func(repo *sqliteadapter.CredentialRepo) error {
				if err := repo.Set(ctx, name, value); err != nil {
					return err
				}
				st.ui.Success("Stored %s", name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&skipValidate, "no-validate", false, "Skip the GitHub token check")
	return cmd
}

func newSecretDeleteCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withCredentials(func(repo *sqliteadapter.CredentialRepo) error {
				if err := repo.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				st.ui.Success("Deleted %s", args[0])
				return nil
			})
		},
	}
}

func newSecretListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored credential names",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.withCredentials(func(repo *sqliteadapter.CredentialRepo) error {
				creds, err := repo.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(creds) == 0 {
					st.ui.Info("No credentials stored")
					return nil
				}
				table := st.ui.Table([]string{"Name", "Value", "Updated"})
				for _, c := range creds {
					_ = table.Append([]string{c.Name, mask(c.Value), formatTime(c.UpdatedAt)})
				}
				return table.Render()
			})
		},
	}
}

// withCredentials opens only the SQLite credential store; secrets never need
// the execution store or provider clients.
func (st *state) withCredentials(fn func(*sqliteadapter.CredentialRepo) error) error {
	if !st.cfg.HasCredentialStore() {
		return errors.New("secret_key is not set; generate one with `openssl rand -hex 32`")
	}
	db, err := sqliteadapter.Open(st.cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", st.cfg.DB.Path, err)
	}
	defer db.Close()
	return fn(sqliteadapter.NewCredentialRepo(db, st.cfg.SecretKey))
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// mask keeps the last four characters of long values.
func mask(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", 8) + value[len(value)-4:]
}
