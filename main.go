package main

import (
	"github.com/hillu/suricata-sub000/cmd"
)

func main() {
	cmd.Execute()
}
