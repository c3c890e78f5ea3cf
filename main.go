package main

import (
	"log"

	"github.com/bobuhiro11/goboot/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
