package main

import (
	"github.com/VoidMesh/terrain/server"
)

func main() {
	server.Serve()
}
