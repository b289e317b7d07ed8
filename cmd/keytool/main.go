package main

import (
	"os"

	"github.com/dmitrijs2005/credkeeper/internal/keytool"
)

func main() {
	os.Exit(keytool.New().Run(os.Args[1:]))
}
