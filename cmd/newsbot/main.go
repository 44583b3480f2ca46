package main

import (
	"os"

	"github.com/Ham12-3/news-bot/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
