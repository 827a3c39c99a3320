// Command worker runs pipeline ticks in response to RabbitMQ dispatch
// notifications published by the API.
package main

import (
	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/app"
)

func main() {
	if err := app.RunWorker(); err != nil {
		logrus.Fatalf("worker error: %v", err)
	}
}
