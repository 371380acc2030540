package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/tripletsrewards/server/internal/model"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// roleAny is inherited by every account role
const roleAny = "role_any"

var policies = [][]string{
	{subject(model.RoleAdministrator), "/admin/*", "(GET)|(POST)"},
	{subject(model.RoleSponsor), "/sponsor/*", "(GET)|(POST)"},
	{subject(model.RoleDriver), "/driver/*", "(GET)|(POST)"},
	{roleAny, "/account/*", "(GET)|(POST)"},
	{roleAny, "/landing", "GET"},
	{roleAny, "/auth/logout", "POST"},
}

func subject(role model.Role) string {
	return "role_" + string(role)
}

// Enforcer decides which roles may call which routes
type Enforcer struct {
	e *casbin.Enforcer
}

// NewEnforcer builds the enforcer with the built-in role policies
func NewEnforcer() (*Enforcer, error) {
	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("seed policies: %w", err)
	}
	for _, role := range []model.Role{model.RoleAdministrator, model.RoleSponsor, model.RoleDriver} {
		if _, err := e.AddGroupingPolicy(subject(role), roleAny); err != nil {
			return nil, fmt.Errorf("seed role %s: %w", role, err)
		}
	}
	return &Enforcer{e: e}, nil
}

// Allow reports whether role may call method on path
func (e *Enforcer) Allow(role model.Role, path, method string) (bool, error) {
	if !role.Valid() {
		return false, nil
	}
	ok, err := e.e.Enforce(subject(role), path, method)
	if err != nil {
		return false, fmt.Errorf("enforce: %w", err)
	}
	return ok, nil
}
