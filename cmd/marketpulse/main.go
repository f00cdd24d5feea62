package main

import (
	"os"

	"horse.fit/marketpulse/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
