// Пакет ops — операторские операции propfolio-admin: очистка тестовых
// пользователей, подготовка dev-окружения, диагностика входа и портфеля,
// назначение ролей. Выполняются от имени оператора в обход RLS.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/idp"
	"github.com/bigkaa/propfolio/internal/service"
)

// IdentityProvider — операции Admin API IdP, нужные оператору.
// Реализуется idp.Client.
type IdentityProvider interface {
	FindUsersByEmail(ctx context.Context, email string) ([]idp.User, error)
	DeleteUser(ctx context.Context, id string) error
	RealmInfo(ctx context.Context) (*idp.Realm, error)
}

// Settings — параметры окружения оператора.
type Settings struct {
	// Development — PF_ENV=development
	Development bool
	// DevUserID, DevUserEmail — фиксированная dev-идентичность
	DevUserID    uuid.UUID
	DevUserEmail string
}

// Operator выполняет операторские команды.
type Operator struct {
	idp         IdentityProvider
	users       *service.UserDirectory
	provisioner *service.Provisioner
	portfolios  *service.PortfolioService
	settings    Settings
	logger      *slog.Logger
}

// New создаёт Operator. idp может быть nil, если команды IdP не нужны.
func New(
	identity IdentityProvider,
	users *service.UserDirectory,
	provisioner *service.Provisioner,
	portfolios *service.PortfolioService,
	settings Settings,
	logger *slog.Logger,
) *Operator {
	return &Operator{
		idp:         identity,
		users:       users,
		provisioner: provisioner,
		portfolios:  portfolios,
		settings:    settings,
		logger:      logger.With(slog.String("component", "operator")),
	}
}

// principal — субъект оператора для scoped-чтений.
func principal() *model.AuthenticatedUser {
	return &model.AuthenticatedUser{
		Subject:     "propfolio-admin",
		SubjectType: model.SubjectTypeUser,
		Role:        rbac.RoleAdmin,
	}
}

// --- Представления результатов ---

// UserView — пользователь зеркала.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// PortfolioView — портфель.
type PortfolioView struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	IsPrimary bool                    `json:"isPrimary"`
	StartYear int                     `json:"startYear"`
	Globals   model.GlobalAssumptions `json:"globals"`
	CreatedAt time.Time               `json:"createdAt"`
}

// IDPUserView — учётная запись IdP.
type IDPUserView struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Enabled       bool      `json:"enabled"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

func userView(u *model.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{ID: u.ID.String(), Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}

func portfolioView(p *model.Portfolio) *PortfolioView {
	if p == nil {
		return nil
	}
	return &PortfolioView{
		ID:        p.ID.String(),
		Name:      p.Name,
		IsPrimary: p.IsPrimary,
		StartYear: p.StartYear,
		Globals:   p.Globals,
		CreatedAt: p.CreatedAt,
	}
}

func idpUserView(u *idp.User) *IDPUserView {
	return &IDPUserView{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Enabled:       u.Enabled,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAtTime(),
	}
}

// --- cleanup-user ---

// DeletedUser — удалённый пользователь.
type DeletedUser struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DeletedPortfolios int64  `json:"deletedPortfolios"`
	// DeletedFromIDP — учётная запись удалена и из IdP
	DeletedFromIDP bool `json:"deletedFromIdp"`
}

// CleanupResult — результат cleanup-user.
type CleanupResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	DeletedUsers []DeletedUser `json:"deletedUsers"`
}

// CleanupUser удаляет пользователей с указанным email: портфели, объекты
// и запись зеркала, затем учётные записи IdP. Учитываются и пользователи,
// оставшиеся только в зеркале.
func (o *Operator) CleanupUser(ctx context.Context, email string) (*CleanupResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email обязателен", service.ErrValidation)
	}
	if o.idp == nil {
		return nil, service.ErrIDPUnavailable
	}

	idpUsers, err := o.idp.FindUsersByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrIDPUnavailable, err)
	}
	mirrored, err := o.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	// Объединяем по ID: IdP и зеркало могут расходиться
	type target struct {
		email string
		inIDP bool
	}
	targets := make(map[string]*target)
	order := make([]string, 0, len(idpUsers)+len(mirrored))
	for _, u := range idpUsers {
		if _, ok := targets[u.ID]; !ok {
			order = append(order, u.ID)
		}
		targets[u.ID] = &target{email: u.Email, inIDP: true}
	}
	for _, u := range mirrored {
		id := u.ID.String()
		if _, ok := targets[id]; !ok {
			order = append(order, id)
			targets[id] = &target{email: u.Email}
		}
	}

	result := &CleanupResult{Success: true, DeletedUsers: []DeletedUser{}}
	if len(order) == 0 {
		result.Message = fmt.Sprintf("пользователи с email %s не найдены", email)
		return result, nil
	}

	var failures []string
	for _, id := range order {
		t := targets[id]
		deleted := DeletedUser{ID: id, Email: t.email}

		if uid, err := uuid.Parse(id); err == nil {
			n, err := o.users.Delete(ctx, uid)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			deleted.DeletedPortfolios = n
		}

		if t.inIDP {
			if err := o.idp.DeleteUser(ctx, id); err != nil && !errors.Is(err, idp.ErrNotFound) {
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			deleted.DeletedFromIDP = true
		}

		o.logger.Info("Пользователь удалён",
			slog.String("user_id", id),
			slog.Int64("portfolios", deleted.DeletedPortfolios),
			slog.Bool("idp", deleted.DeletedFromIDP),
		)
		result.DeletedUsers = append(result.DeletedUsers, deleted)
	}

	result.Message = fmt.Sprintf("удалено пользователей: %d", len(result.DeletedUsers))
	if len(failures) > 0 {
		result.Success = false
		result.Message += "; ошибки: " + strings.Join(failures, "; ")
	}
	return result, nil
}

// --- dev-setup ---

// SetupResult — результат dev-setup, check-auth и check-portfolio.
type SetupResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	IDPUser   *IDPUserView   `json:"idpUser,omitempty"`
	User      *UserView      `json:"user,omitempty"`
	Portfolio *PortfolioView `json:"portfolio,omitempty"`
	// PortfolioCount — число портфелей пользователя после операции
	PortfolioCount *int `json:"portfolioCount,omitempty"`
}

// DevSetup зеркалирует фиксированную dev-идентичность и создаёт ей
// основной портфель. Разрешено только в development.
func (o *Operator) DevSetup(ctx context.Context) (*SetupResult, error) {
	if !o.settings.Development {
		return nil, service.ErrNotDevelopment
	}

	user, err := o.users.Resolve(ctx, o.settings.DevUserID, o.settings.DevUserEmail)
	if err != nil {
		return nil, err
	}
	portfolio, err := o.provisioner.EnsureUserHasPortfolio(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Dev-окружение подготовлено",
		slog.String("user_id", user.ID.String()),
		slog.String("portfolio_id", portfolio.ID.String()),
	)
	return &SetupResult{
		Success:   true,
		Message:   "dev-пользователь и основной портфель готовы",
		User:      userView(user),
		Portfolio: portfolioView(portfolio),
	}, nil
}

// --- check-auth ---

// CheckAuth повторяет путь первого входа пользователя с email:
// поиск в IdP, зеркалирование и создание основного портфеля.
func (o *Operator) CheckAuth(ctx context.Context, email string) (*SetupResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email обязателен", service.ErrValidation)
	}
	if o.idp == nil {
		return nil, service.ErrIDPUnavailable
	}

	realm, err := o.idp.RealmInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrIDPUnavailable, err)
	}

	users, err := o.idp.FindUsersByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrIDPUnavailable, err)
	}
	if len(users) == 0 {
		return &SetupResult{
			Success: false,
			Message: fmt.Sprintf("пользователь %s не найден в realm %s", email, realm.Realm),
		}, nil
	}

	idpUser := &users[0]
	result := &SetupResult{IDPUser: idpUserView(idpUser)}
	if !idpUser.Enabled {
		result.Message = "учётная запись IdP отключена"
		return result, nil
	}

	id, err := uuid.Parse(idpUser.ID)
	if err != nil {
		result.Message = "ID пользователя IdP не является UUID: вход в propfolio невозможен"
		return result, nil
	}

	user, err := o.users.Resolve(ctx, id, idpUser.Email)
	if err != nil {
		return nil, err
	}
	portfolio, err := o.provisioner.EnsureUserHasPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}

	result.Success = true
	result.Message = fmt.Sprintf("вход возможен, роль %s", rbac.EffectiveRole("", user.Role))
	result.User = userView(user)
	result.Portfolio = portfolioView(portfolio)
	return result, nil
}

// --- check-portfolio ---

// CheckPortfolio зеркалирует пользователя и создаёт ему портфель по умолчанию
// без проверки существующих.
func (o *Operator) CheckPortfolio(ctx context.Context, userID uuid.UUID, email string) (*SetupResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user-id обязателен", service.ErrValidation)
	}

	user, err := o.users.Resolve(ctx, userID, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	portfolio, err := o.provisioner.CreateDefaultPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := o.portfolios.ListPortfolios(ctx, principal(), userID)
	if err != nil {
		return nil, err
	}
	count := len(list)

	return &SetupResult{
		Success:        true,
		Message:        "портфель по умолчанию создан",
		User:           userView(user),
		Portfolio:      portfolioView(portfolio),
		PortfolioCount: &count,
	}, nil
}

// --- set-role ---

// RoleResult — результат set-role.
type RoleResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Users   []*UserView `json:"users"`
}

// SetRole назначает роль всем зеркалированным пользователям с email.
func (o *Operator) SetRole(ctx context.Context, email, role string) (*RoleResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email обязателен", service.ErrValidation)
	}
	if !rbac.IsValidRole(role) {
		return nil, service.ErrInvalidRole
	}

	users, err := o.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("пользователь %s не зеркалирован: %w", email, service.ErrNotFound)
	}

	result := &RoleResult{Success: true, Users: make([]*UserView, 0, len(users))}
	for _, u := range users {
		if err := o.users.SetRole(ctx, u.ID, role); err != nil {
			return nil, err
		}
		u.Role = role
		result.Users = append(result.Users, userView(u))
	}
	result.Message = fmt.Sprintf("роль %s назначена пользователям: %d", role, len(users))
	return result, nil
}
