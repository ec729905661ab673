package packs

import "github.com/govplane/backplane/pkg/ule"

// RegisterDefaults registers the specification, drawing, and
// commercial packs shipped with this module.
func RegisterDefaults(engine *ule.Engine) {
	engine.RegisterPack(NewSpecificationPack())
	engine.RegisterPack(NewDrawingPack())
	engine.RegisterPack(NewCommercialPack())
}
