package main

import (
	"context"
	"log"
	"time"

	"bayou-dm/simulator"
)

func main() {
	config := simulator.SimConfig{
		NumUsers:       10,
		SimulationTime: 5 * time.Minute,
		SendFrequency:  12.0,
		EditChance:     0.15,
		ReactChance:    0.3,
		EngineURL:      "http://localhost:8080",
	}

	log.Printf("Starting simulation:")
	log.Printf("- Engine URL: %s", config.EngineURL)
	log.Printf("- Number of users: %d", config.NumUsers)
	log.Printf("- Simulation time: %v", config.SimulationTime)
	log.Printf("- Send frequency: %.1f messages/user/minute", config.SendFrequency)

	sim := simulator.NewSimulator(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	metrics := sim.Metrics()
	log.Printf("Simulation completed. Final metrics:")
	log.Printf("- Total requests: %d (success %d, failed %d)", metrics.TotalRequests, metrics.SuccessRequests, metrics.FailedRequests)
	log.Printf("- Messages sent: %d", metrics.TotalMessages)
	log.Printf("- Edits: %d", metrics.TotalEdits)
	log.Printf("- Reactions: %d", metrics.TotalReactions)
}
