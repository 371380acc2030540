package auth

import "github.com/tripletsrewards/server/internal/model"

var landings = map[model.Role]string{
	model.RoleAdministrator: "/admin/dashboard",
	model.RoleSponsor:       "/sponsor/dashboard",
	model.RoleDriver:        "/driver/dashboard",
}

// LandingFor returns the landing path for a role. Unknown roles land on the driver area.
func LandingFor(role model.Role) string {
	if p, ok := landings[role]; ok {
		return p
	}
	return landings[model.RoleDriver]
}
