// Package engines wires the built-in adapters into a registry.
package engines

import (
	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/elastic"
	"github.com/kev-ang/ruben/internal/engines/llm"
	"github.com/kev-ang/ruben/internal/engines/mangle"
	"github.com/kev-ang/ruben/internal/engines/mongo"
	"github.com/kev-ang/ruben/internal/engines/postgres"
	"github.com/kev-ang/ruben/internal/engines/sqldb"
)

// RegisterAll adds every built-in adapter to reg.
func RegisterAll(reg *benchmark.Registry) {
	reg.Register(mangle.Type, mangle.New)
	reg.Register(postgres.Type, postgres.New)
	reg.Register(sqldb.TypeMySQL, sqldb.NewMySQL)
	reg.Register(sqldb.TypeSQLite, sqldb.NewSQLite)
	reg.Register(mongo.Type, mongo.New)
	reg.Register(elastic.Type, elastic.New)
	reg.Register(llm.Type, llm.New)
}

// NewRegistry returns a registry holding every built-in adapter.
func NewRegistry() *benchmark.Registry {
	reg := benchmark.NewRegistry()
	RegisterAll(reg)
	return reg
}
