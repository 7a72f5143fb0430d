package registry

import (
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
)

func init() {
	RegisterBuiltins()
}

// RegisterBuiltins registers every georef process in dependency order.
func RegisterBuiltins() {
	for _, d := range georef.Definitions() {
		def := d
		Register(def.Name, func(opts georef.Options) *etl.Process {
			return def.Process(opts)
		})
	}
}
