package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/crosbyhealth/mcdp-app/mcdp/mcdpcli"
)

func main() {
	app := mcdpcli.GetApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
