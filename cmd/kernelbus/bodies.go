package main

import "github.com/drblury/kernelbus"

// Ping asks the pong service to echo its sequence number.
type Ping struct {
	Seq int `json:"seq"`
}

func (Ping) Kind() kernelbus.BodyKind { return "demo.ping" }
func (Ping) ResponseRequired() bool   { return true }
func (p Ping) Copy() kernelbus.Body   { return p }

func (p Ping) Equal(o kernelbus.Body) bool {
	other, ok := o.(Ping)
	return ok && other == p
}

type Pong struct {
	Seq int `json:"seq"`
}

func (Pong) Kind() kernelbus.BodyKind { return "demo.pong" }
func (Pong) ResponseRequired() bool   { return false }
func (p Pong) Copy() kernelbus.Body   { return p }

func (p Pong) Equal(o kernelbus.Body) bool {
	other, ok := o.(Pong)
	return ok && other == p
}

func demoCatalog() *kernelbus.Catalog {
	return kernelbus.NewCatalog(Ping{}, Pong{})
}
