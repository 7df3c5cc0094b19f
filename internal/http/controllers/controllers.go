// Package controllers agrupa todos los controllers HTTP.
// Este es el "composition root" de controllers: acá se instancian todos
// con sus services ya creados.
package controllers

import (
	"github.com/dropDatabas3/salus/internal/audit"
	healthctrl "github.com/dropDatabas3/salus/internal/http/controllers/health"
	keyctrl "github.com/dropDatabas3/salus/internal/http/controllers/keys"
	mfactrl "github.com/dropDatabas3/salus/internal/http/controllers/mfa"
	policyctrl "github.com/dropDatabas3/salus/internal/http/controllers/policy"
	keysvc "github.com/dropDatabas3/salus/internal/keys"
	mfasvc "github.com/dropDatabas3/salus/internal/mfa"
	policysvc "github.com/dropDatabas3/salus/internal/policy"
)

// Deps contiene los services que consumen los controllers.
type Deps struct {
	MFA     mfasvc.Service
	Keys    keysvc.Service
	Policy  policysvc.Service
	Auditor *audit.Recorder

	Store   healthctrl.Pinger
	Cache   healthctrl.Pinger
	Version string
}

// Controllers agrupa los controllers por dominio.
type Controllers struct {
	MFA    *mfactrl.Controller
	Keys   *keyctrl.Controller
	Policy *policyctrl.Controller
	Health *healthctrl.Controller
}

// New crea el agregador de controllers.
func New(d Deps) *Controllers {
	return &Controllers{
		MFA:    mfactrl.NewController(d.MFA),
		Keys:   keyctrl.NewController(d.Keys, d.Auditor),
		Policy: policyctrl.NewController(d.Policy),
		Health: healthctrl.NewController(d.Store, d.Cache, d.Version),
	}
}
