package main

import (
	"log"

	"tienda/checkout-service/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("checkout service failed: %v", err)
	}
}
