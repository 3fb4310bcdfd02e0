package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/propfolio/internal/config"
	"github.com/bigkaa/propfolio/internal/database"
	"github.com/bigkaa/propfolio/internal/idp"
	"github.com/bigkaa/propfolio/internal/ops"
	"github.com/bigkaa/propfolio/internal/repository"
	"github.com/bigkaa/propfolio/internal/service"
)

// app — зависимости, создаваемые перед выполнением команды.
type app struct {
	envFile  string
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	operator *ops.Operator
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "propfolio-admin",
		Short:         "Операторские команды propfolio",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Файл с переменными окружения PF_*")

	cmd.AddCommand(newCleanupUserCommand(a))
	cmd.AddCommand(newDevSetupCommand(a))
	cmd.AddCommand(newCheckAuthCommand(a))
	cmd.AddCommand(newCheckPortfolioCommand(a))
	cmd.AddCommand(newSetRoleCommand(a))
	return cmd
}

// init загружает конфигурацию, применяет миграции и создаёт Operator.
// Вызывается после проверки флагов команды.
func (a *app) init(ctx context.Context) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	a.cfg = cfg
	a.logger = config.SetupLogger(cfg)

	if err := database.Migrate(cfg, a.logger); err != nil {
		return err
	}
	a.pool, err = database.Connect(ctx, cfg, a.logger)
	if err != nil {
		return err
	}

	var identity ops.IdentityProvider
	if cfg.IDPClientID != "" && cfg.IDPClientSecret != "" {
		identity = idp.New(cfg.IDPURL, cfg.IDPRealm, cfg.IDPClientID, cfg.IDPClientSecret,
			&http.Client{Timeout: 15 * time.Second}, a.logger)
	}

	store := service.NewStore(repository.NewAccess(a.pool, database.ScopedRole), cfg.StorageTimeout, a.logger)
	portfolios := service.NewPortfolioService(store, a.logger)
	a.operator = ops.New(
		identity,
		service.NewUserDirectory(store, cfg.UserCacheSize, cfg.UserCacheTTL, a.logger),
		service.NewProvisioner(store, a.logger),
		portfolios,
		ops.Settings{
			Development:  cfg.IsDevelopment(),
			DevUserID:    uuid.MustParse(cfg.DevUserID),
			DevUserEmail: cfg.DevUserEmail,
		},
		a.logger,
	)
	return nil
}

// --- Входные данные команд ---

type emailInput struct {
	Email string `validate:"required,email"`
}

type roleInput struct {
	Email string `validate:"required,email"`
	Role  string `validate:"required,oneof=client admin"`
}

type portfolioInput struct {
	UserID string `validate:"required,uuid"`
	Email  string `validate:"omitempty,email"`
}

// validateInput проверяет флаги команды.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("--%s: нарушено правило %s", flagName(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func flagName(field string) string {
	switch field {
	case "UserID":
		return "user-id"
	default:
		return strings.ToLower(field)
	}
}

// printJSON выводит результат команды.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Команды ---

func newCleanupUserCommand(a *app) *cobra.Command {
	var in emailInput
	cmd := &cobra.Command{
		Use:   "cleanup-user",
		Short: "Удалить пользователя с email из IdP и propfolio вместе с портфелями",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return validateInput(in)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			res, err := a.operator.CleanupUser(cmd.Context(), in.Email)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email пользователя")
	return cmd
}

func newDevSetupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dev-setup",
		Short: "Создать dev-пользователя и его основной портфель (только PF_ENV=development)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			res, err := a.operator.DevSetup(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newCheckAuthCommand(a *app) *cobra.Command {
	var in emailInput
	cmd := &cobra.Command{
		Use:   "check-auth",
		Short: "Проверить путь первого входа пользователя: IdP, зеркало, основной портфель",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return validateInput(in)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			res, err := a.operator.CheckAuth(cmd.Context(), in.Email)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email пользователя")
	return cmd
}

func newCheckPortfolioCommand(a *app) *cobra.Command {
	var in portfolioInput
	cmd := &cobra.Command{
		Use:   "check-portfolio",
		Short: "Зеркалировать пользователя и создать ему портфель по умолчанию",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return validateInput(in)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			res, err := a.operator.CheckPortfolio(cmd.Context(), uuid.MustParse(in.UserID), in.Email)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&in.UserID, "user-id", "", "UUID пользователя (sub в IdP)")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email пользователя")
	return cmd
}

func newSetRoleCommand(a *app) *cobra.Command {
	var in roleInput
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Назначить роль client или admin пользователю с email",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return validateInput(in)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			res, err := a.operator.SetRole(cmd.Context(), in.Email, in.Role)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email пользователя")
	cmd.Flags().StringVar(&in.Role, "role", "", "Роль: client или admin")
	return cmd
}
