package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/dylan-vpa/serambienteai-sub000/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	h := &Handler{
		runner:     a.Pipeline,
		stuckAfter: a.Config.StuckAfter,
		logger:     a.Logger,
	}
	lambda.Start(h.Handle)
}
