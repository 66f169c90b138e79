package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/sentrymail/internal/models"
)

// demoCustomers are the names used by the seed command, cycled when more
// are requested.
var demoCustomers = []string{
	"Acme Corp",
	"Globex Industries",
	"Initech Systems",
	"Umbrella Logistics",
	"Stark Manufacturing",
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < seedCount; i++ {
		name := demoCustomers[i%len(demoCustomers)]
		customer := &models.Customer{
			ID:                  uuid.New().String(),
			Name:                name,
			Email:               fmt.Sprintf("security-%d@example.com", i+1),
			NotificationEnabled: true,
			CreatedAt:           time.Now().UTC(),
		}
		if err := store.Customers().Insert(ctx, customer); err != nil {
			return fmt.Errorf("insert customer %q: %w", name, err)
		}
		fmt.Printf("seeded customer %s <%s>\n", customer.Name, customer.Email)
	}

	return nil
}
