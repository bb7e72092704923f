package main

import (
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/loader/kafkaloader"
	"github.com/modbroker/gwbroker/loader/native"
	"github.com/modbroker/gwbroker/loader/natsloader"
	"github.com/modbroker/gwbroker/loader/rabbitmqloader"
)

// defaultLoaderRegistry builds a Registry with every built-in loader
// registered (spec.md §4.4 initialize_defaults), the native dynamic
// loader plus the three OUT_OF_PROCESS transport bridges.
func defaultLoaderRegistry() *loader.Registry {
	reg := loader.NewRegistry()
	reg.Register(native.New())
	reg.Register(natsloader.New())
	reg.Register(rabbitmqloader.New())
	reg.Register(kafkaloader.New())
	return reg
}
