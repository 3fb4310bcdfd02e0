// Пакет model — доменные модели propfolio.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User — зеркало пользователя IdP в таблице users.
// Создаётся лениво при первом аутентифицированном запросе.
type User struct {
	// ID — subject пользователя в IdP
	ID uuid.UUID
	// Email — последний известный email из токена или IdP
	Email string
	// Role — роль, назначенная администратором (client, admin)
	Role string
	// CreatedAt — время первого обращения
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления email или роли
	UpdatedAt time.Time
}

// SubjectType — тип аутентифицированного субъекта.
type SubjectType string

const (
	// SubjectTypeUser — пользователь, вошедший через OIDC.
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeServiceAccount — сервисный клиент (Client Credentials).
	SubjectTypeServiceAccount SubjectType = "service_account"
)

// AuthenticatedUser — результат работы Auth Gate.
// Помещается в контекст запроса и передаётся в сервисный слой.
type AuthenticatedUser struct {
	// ID — UUID пользователя. Нулевой для сервисных аккаунтов.
	ID uuid.UUID
	// Subject — sub из токена
	Subject string
	// SubjectType — пользователь или сервисный аккаунт
	SubjectType SubjectType
	// Email — email из токена
	Email string
	// Groups — группы IdP
	Groups []string
	// IdpRole — роль, вычисленная из групп IdP ("" если нет совпадений)
	IdpRole string
	// StoredRole — роль из таблицы users
	StoredRole string
	// Role — итоговая роль = max(IdpRole, StoredRole), по умолчанию client
	Role string

	// ClientID — client_id сервисного аккаунта
	ClientID string
	// Scopes — scopes сервисного аккаунта
	Scopes []string
}

// IsServiceAccount сообщает, является ли субъект сервисным аккаунтом.
func (u *AuthenticatedUser) IsServiceAccount() bool {
	return u != nil && u.SubjectType == SubjectTypeServiceAccount
}

// HasScope проверяет наличие scope у сервисного аккаунта.
func (u *AuthenticatedUser) HasScope(scope string) bool {
	if u == nil {
		return false
	}
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
