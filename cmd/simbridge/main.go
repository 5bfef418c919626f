package main

import (
	"github.com/wolflab/simbridge-go/internal/cmd"
)

func main() {
	cmd.Execute()
}
