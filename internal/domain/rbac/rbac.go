// Пакет rbac — роли и предикаты доступа propfolio.
// Итоговая роль = max(роль из IdP, роль из таблицы users).
// Роль можно только повысить, не понизить.
package rbac

import (
	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
)

// Роли в порядке возрастания привилегий.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// ScopePropertiesWrite — scope сервисного аккаунта для загрузки объектов.
const ScopePropertiesWrite = "properties:write"

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleClient: 1,
	RoleAdmin:  2,
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, storedRole).
// Если обе роли неизвестны, возвращает client.
func EffectiveRole(idpRole, storedRole string) string {
	role := maxRole(idpRole, storedRole)
	if !IsValidRole(role) {
		return RoleClient
	}
	return role
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// MapGroupsToRole возвращает admin, если пользователь состоит в одной из adminGroups.
// Иначе — пустую строку.
func MapGroupsToRole(groups, adminGroups []string) string {
	adminSet := toSet(adminGroups)
	for _, g := range groups {
		if adminSet[g] {
			return RoleAdmin
		}
	}
	return ""
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// IsAdmin — true, если итоговая роль пользователя admin.
func IsAdmin(user *model.AuthenticatedUser) bool {
	return user != nil && user.Role == RoleAdmin
}

// CanAccessPortfolio — единственный предикат доступа к портфелю и его объектам.
// true, если пользователь admin или является владельцем портфеля.
func CanAccessPortfolio(user *model.AuthenticatedUser, ownerID uuid.UUID) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) {
		return true
	}
	return user.ID != uuid.Nil && user.ID == ownerID
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
