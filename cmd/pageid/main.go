package main

import (
	"os"

	"horse.fit/pageid/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
