package auth

import "github.com/nerrad567/instrument-station/internal/protocol"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleObserver may inspect instruments but not change them.
	RoleObserver Role = "observer"

	// RoleOperator may additionally call methods and set parameters.
	RoleOperator Role = "operator"

	// RoleAdmin may additionally create and close instruments.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permission represents a named capability on the request channel.
type Permission string

// Permission constants.
const (
	PermInstrumentRead    Permission = "instrument:read"
	PermInstrumentOperate Permission = "instrument:operate"
	PermInstrumentManage  Permission = "instrument:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleObserver: {PermInstrumentRead},
	RoleOperator: {PermInstrumentRead, PermInstrumentOperate},
	RoleAdmin:    {PermInstrumentRead, PermInstrumentOperate, PermInstrumentManage},
}

// operationPermissions maps each instruction to the capability it needs.
var operationPermissions = map[protocol.Operation]Permission{
	protocol.OpEnumerate:     PermInstrumentRead,
	protocol.OpGetBlueprint:  PermInstrumentRead,
	protocol.OpGetSnapshot:   PermInstrumentRead,
	protocol.OpCall:          PermInstrumentOperate,
	protocol.OpSetParameters: PermInstrumentOperate,
	protocol.OpCreate:        PermInstrumentManage,
	protocol.OpClose:         PermInstrumentManage,
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionFor returns the capability an operation requires. Unknown
// operations require manage.
func PermissionFor(op protocol.Operation) Permission {
	if p, ok := operationPermissions[op]; ok {
		return p
	}
	return PermInstrumentManage
}

// Authorize returns ErrForbidden unless claims allow op. Nil claims mean
// authentication is disabled and everything is allowed.
func Authorize(claims *Claims, op protocol.Operation) error {
	if claims == nil {
		return nil
	}
	if !HasPermission(claims.Role, PermissionFor(op)) {
		return ErrForbidden
	}
	return nil
}
