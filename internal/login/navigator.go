package login

import (
	"strings"

	"github.com/vendorportal/vendorportal/internal/config"
)

// Navigator picks the landing page for a signed-in address.
type Navigator interface {
	Destination(email string) string
}

// RoleNavigator routes two reference addresses to their own pages and
// everyone else to vendor intake.
type RoleNavigator struct {
	cfg config.LoginConfig
}

func NewRoleNavigator(cfg config.LoginConfig) *RoleNavigator {
	return &RoleNavigator{cfg: cfg}
}

func (n *RoleNavigator) Destination(email string) string {
	email = strings.TrimSpace(email)
	switch {
	case n.cfg.AdminEmail != "" && strings.EqualFold(email, n.cfg.AdminEmail):
		return n.cfg.AdminPath
	case n.cfg.DueDiligenceEmail != "" && strings.EqualFold(email, n.cfg.DueDiligenceEmail):
		return n.cfg.DueDiligencePath
	default:
		return n.cfg.VendorIntakePath
	}
}
