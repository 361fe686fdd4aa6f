package main

import (
	"fmt"

	"github.com/decisio/eventcore/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
