package main

import (
	"github.com/Paintersrp/kioskd/internal/cli"
)

func main() {
	cli.Execute()
}
