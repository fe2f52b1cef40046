// migrate applies the token store schema to the Postgres database named by DATABASE_URL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"infractl/client/internal/config"
	"infractl/client/internal/db/migrate"
)

func main() {
	direction := pflag.String("direction", "up", "Migration direction: up or down")
	pflag.Parse()

	// Only the DSN is needed here; the client settings may be incomplete on a migration host.
	dsn := config.DatabaseURL()
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; set it in the environment or .env")
		os.Exit(1)
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("token store schema already at target version")
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("token store migrations applied (%s)\n", *direction)
}
