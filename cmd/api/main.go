package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"ragbackend/internal/app"
)

func main() {
	ctx := context.Background()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Log.Sync()

	lambda.Start(a.API.Handle)
}
