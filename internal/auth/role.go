package auth

import "fmt"

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleBranchManager Role = "branch_manager"
	RoleStaff         Role = "staff"
	RoleChef          Role = "chef"
	RoleCustomer      Role = "customer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleBranchManager, RoleStaff, RoleChef, RoleCustomer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrUnauthorized, s)
	}
}

func (r Role) String() string {
	return string(r)
}

type Capability int

const (
	CapRequestStock Capability = iota + 1
	CapRespondPeerRequest
	CapManageGodown
	CapSweepRequests
	CapViewStock
	CapKitchen
	CapOrder
	CapReports
)

var capabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapManageGodown:  true,
		CapSweepRequests: true,
		CapViewStock:     true,
		CapReports:       true,
	},
	RoleBranchManager: {
		CapRequestStock:       true,
		CapRespondPeerRequest: true,
		CapViewStock:          true,
	},
	RoleStaff: {
		CapRequestStock: true,
		CapViewStock:    true,
	},
	RoleChef: {
		CapKitchen:   true,
		CapViewStock: true,
	},
	RoleCustomer: {
		CapOrder: true,
	},
}

func (r Role) Can(c Capability) bool {
	return capabilities[r][c]
}
