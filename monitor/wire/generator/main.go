package main

import (
	"github.com/outofforest/memexpose/monitor/wire"
	"github.com/outofforest/proton"
)

//go:generate go run .
func main() {
	proton.Generate("../types.proton.go",
		proton.Message[wire.Request](),
		proton.Message[wire.Response](),
		proton.Message[wire.Status](),
	)
}
